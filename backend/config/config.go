package config

import "github.com/spf13/viper"

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers         []string `mapstructure:"brokers"`
		Topic           string   `mapstructure:"topic"`
		DeadLetterTopic string   `mapstructure:"deadLetterTopic"`
	} `mapstructure:"kafka"`
	Collab struct {
		// 操作日志的 trim 阈值：日志长度到 2*threshold 时把前
		// threshold 条移入待落盘缓冲
		SaveThreshold int `mapstructure:"saveThreshold"`
		// 落盘队列容量，打满后编辑提交被反压
		QueueCapacity int `mapstructure:"queueCapacity"`
		// ImportFile 未指定文件名时的缺省源文档
		DefaultFile string `mapstructure:"defaultFile"`
	} `mapstructure:"collab"`
}

func Init() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("running.port", 8080)
	v.SetDefault("collab.saveThreshold", 100)
	v.SetDefault("collab.queueCapacity", 200)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
