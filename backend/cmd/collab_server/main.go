package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/jeffl8n/syncfusion-collab-example/backend/config"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/cache"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/collab"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/httpapi/handlers"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/persist"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/store"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/ws"
)

func main() {
	cfg, err := config.Init()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	gormDB, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatalf("Failed to get sql db: %v", err)
	}
	defer sqlDB.Close()

	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	snapshotStore := store.NewSnapshotStore(sqlDB)
	documentStore := store.NewDocumentStore(gormDB)
	source := store.NewDocumentSource(snapshotStore, documentStore, cfg.Collab.DefaultFile)

	oplog := cache.NewOpLog(rdb)
	registry := cache.NewRegistry(rdb)

	kafkaSem := collab.NewSemaphoreControl(256)
	wsSem := collab.NewSemaphoreControl(100)

	// Kafka 本地队列 + worker 重试发送
	dispatcher := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		cfg.Kafka.DeadLetterTopic,
		kafkaSem,
		collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	transformer := collab.PassthroughTransformer{}
	applier := collab.TextApplier{}

	queue := persist.NewQueue(cfg.Collab.QueueCapacity)
	svc := collab.NewService(oplog, queue, transformer, applier, source, dispatcher, cfg.Collab.SaveThreshold)

	worker := persist.NewWorker(queue, oplog, transformer, applier, source, snapshotStore, dispatcher)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	hub := ws.NewHub(registry)
	manager := ws.NewManager(hub, svc, wsSem)
	collabHandler := handlers.NewCollabHandler(svc, hub)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	// 路由
	api := r.Group("/api/collaborativeediting")
	api.POST("/ImportFile", collabHandler.ImportFile)
	api.POST("/UpdateAction", collabHandler.UpdateAction)
	api.POST("/GetActionsFromServer", collabHandler.GetActionsFromServer)
	r.GET("/documenteditorhub", manager.WebSocketConnect)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// worker 在取队列的阻塞点观察到取消后退出
	<-workerDone
}
