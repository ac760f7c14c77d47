package store

import (
	"context"
	"errors"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// 源文档表：ImportFile 按文件名取初始内容
type Document struct {
	ID       uint64 `gorm:"primaryKey"`
	FileName string `gorm:"uniqueIndex;size:255"`
	Title    string `gorm:"size:255"`
	Content  string `gorm:"type:longtext"`
}

var ErrDocumentNotFound = errors.New("document not found")

type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) GetDocumentContent(ctx context.Context, fileName string) (string, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("file_name = ?", fileName).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrDocumentNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

func (s *DocumentStore) CreateDocument(ctx context.Context, fileName, title, content string) error {
	return s.db.WithContext(ctx).Create(&Document{
		FileName: fileName,
		Title:    title,
		Content:  content,
	}).Error
}
