// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Transport struct {
	Type       string `mapstructure:"type"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Logger struct {
	Level      string      `mapstructure:"level"`
	Transports []Transport `mapstructure:"transports"`
}

type Server struct {
	Port               int      `mapstructure:"port"`
	CORSOrigin         string   `mapstructure:"cors_origin"`
	CORSMethods        []string `mapstructure:"cors_methods"`
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`
	LogStreamPath      string   `mapstructure:"log_stream_path"`
	MonitorStreamPath  string   `mapstructure:"monitor_stream_path"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
}

type Scheduler struct {
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
}

type GetObject struct {
	MaxRetries  int     `mapstructure:"max_retries"`
	Temperature float64 `mapstructure:"temperature"`
}

type Shutdown struct {
	PerPlugin time.Duration `mapstructure:"per_plugin"`
	Server    time.Duration `mapstructure:"server"`
	PerTask   time.Duration `mapstructure:"per_task"`
}

type Tracing struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	Environment  string  `mapstructure:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type Config struct {
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	GetObject GetObject `mapstructure:"get_object"`
	Shutdown  Shutdown  `mapstructure:"shutdown"`
	Tracing   Tracing   `mapstructure:"tracing"`
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() *Config {
	return &Config{
		Logger: Logger{Level: "info"},
		Server: Server{
			Port:               3000,
			CORSOrigin:         "*",
			CORSMethods:        []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
			LogStreamPath:      "/logs/stream",
			MonitorStreamPath:  "/monitor/stream",
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
		},
		Scheduler: Scheduler{MaxConcurrentTasks: 4},
		GetObject: GetObject{MaxRetries: 3, Temperature: 0.1},
		Shutdown: Shutdown{
			PerPlugin: 5 * time.Second,
			Server:    5 * time.Second,
			PerTask:   5 * time.Second,
		},
		Tracing: Tracing{Enabled: false, SamplingRate: 1.0},
	}
}

// Load reads configuration from a YAML file with env overrides. A
// missing file yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("logger.level", def.Logger.Level)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.cors_origin", def.Server.CORSOrigin)
	v.SetDefault("server.cors_methods", def.Server.CORSMethods)
	v.SetDefault("server.cors_allowed_headers", def.Server.CORSAllowedHeaders)
	v.SetDefault("server.log_stream_path", def.Server.LogStreamPath)
	v.SetDefault("server.monitor_stream_path", def.Server.MonitorStreamPath)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("scheduler.max_concurrent_tasks", def.Scheduler.MaxConcurrentTasks)
	v.SetDefault("get_object.max_retries", def.GetObject.MaxRetries)
	v.SetDefault("get_object.temperature", def.GetObject.Temperature)
	v.SetDefault("shutdown.per_plugin", def.Shutdown.PerPlugin)
	v.SetDefault("shutdown.server", def.Shutdown.Server)
	v.SetDefault("shutdown.per_task", def.Shutdown.PerTask)
	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", def.Tracing.Endpoint)
	v.SetDefault("tracing.environment", def.Tracing.Environment)
	v.SetDefault("tracing.sampling_rate", def.Tracing.SamplingRate)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid
// settings.
func Validate(cfg *Config) error {
	if cfg.Scheduler.MaxConcurrentTasks < 1 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be >= 1")
	}
	if cfg.GetObject.MaxRetries < 0 {
		return fmt.Errorf("get_object.max_retries must be >= 0")
	}
	if cfg.GetObject.Temperature < 0 || cfg.GetObject.Temperature > 2 {
		return fmt.Errorf("get_object.temperature must be in [0, 2]")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0..65535")
	}
	if cfg.Shutdown.PerPlugin <= 0 || cfg.Shutdown.Server <= 0 || cfg.Shutdown.PerTask <= 0 {
		return fmt.Errorf("shutdown timeouts must be > 0")
	}
	for _, tr := range cfg.Logger.Transports {
		switch tr.Type {
		case "stderr", "websocket":
		case "file":
			if tr.Path == "" {
				return fmt.Errorf("logger file transport requires a path")
			}
		default:
			return fmt.Errorf("unknown logger transport %q", tr.Type)
		}
	}
	return nil
}
