package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Worker struct {
		Addr        string `yaml:"addr"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"worker"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
	Upload struct {
		MaxBytes     int64  `yaml:"max_bytes"`
		AcceptedType string `yaml:"accepted_type"`
	} `yaml:"upload"`
	Analysis struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		PollTimeout  time.Duration `yaml:"poll_timeout"`
		Concurrency  int           `yaml:"concurrency"`
	} `yaml:"analysis"`
}

var AppConfig *Config

// Default returns a config with every optional value filled in.
func Default() *Config {
	c := &Config{}
	c.Server.Port = ":8080"
	c.Log.Mode = "dev"
	c.Worker.Concurrency = 5
	c.MinIO.Bucket = "scripts"
	c.Upload.MaxBytes = 10 << 20
	c.Upload.AcceptedType = "application/pdf"
	c.Analysis.PollInterval = 3 * time.Second
	c.Analysis.PollTimeout = 30 * time.Minute
	c.Analysis.Concurrency = 8
	return c
}

// Load reads the YAML file at path on top of Default.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MySQL.DSN == "" {
		return fmt.Errorf("config: mysql.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Worker.Addr == "" {
		return fmt.Errorf("config: worker.addr is required")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("config: upload.max_bytes must be positive")
	}
	if c.Analysis.PollInterval <= 0 {
		return fmt.Errorf("config: analysis.poll_interval must be positive")
	}
	return nil
}

// InitConfig loads path into AppConfig.
func InitConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}
