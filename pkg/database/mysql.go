package database

import (
	"fmt"
	"time"
	"voxchat-go/internal/model"
	"voxchat-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接，并迁移用户与语音会话表。
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(DB); err != nil {
		log.Fatal("failed to migrate database", err)
	}
	log.Info("MySQL database connected successfully")
}

// Migrate 创建或更新应用所需的表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.VoiceSession{}); err != nil {
		return fmt.Errorf("自动迁移失败: %w", err)
	}
	return nil
}
