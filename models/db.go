package models

import (
	"database/sql"
	"fmt"
	"time"

	"ScriptSuite-server/logger"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to MySQL, hands the pool to gorm and migrates the schema.
func Open(dsn string, log *logger.Logger) (*gorm.DB, error) {
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("gorm init: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("Database connected", "tables", []string{Project{}.TableName(), Task{}.TableName(), AnalysisResult{}.TableName()})
	return db, nil
}

// Migrate creates or alters the tables this service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Project{}, &Task{}, &AnalysisResult{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
