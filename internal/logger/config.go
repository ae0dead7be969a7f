package logger

import (
	"io"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EnvConfig is the logger setup read from LOG_* environment variables.
type EnvConfig struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // overrides every other sink when set
	ServiceName string

	// File is a rotated log file; empty logs to stdout only.
	File       string
	FileOnly   bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LoadFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_FILE, LOG_FILE_ONLY,
// LOG_MAX_SIZE, LOG_MAX_BACKUPS, LOG_MAX_AGE and LOG_COMPRESS. SERVICE_NAME
// overrides serviceName, which tags every line.
func LoadFromEnv(serviceName string) *EnvConfig {
	v := viper.New()
	v.SetEnvPrefix("log")
	v.AutomaticEnv()
	v.BindEnv("service", "SERVICE_NAME")

	v.SetDefault("service", serviceName)
	v.SetDefault("level", "info")
	v.SetDefault("format", "json")
	v.SetDefault("file", "")
	v.SetDefault("file_only", false)
	v.SetDefault("max_size", 100)
	v.SetDefault("max_backups", 7)
	v.SetDefault("max_age", 30)
	v.SetDefault("compress", true)

	return &EnvConfig{
		Level:       v.GetString("level"),
		Format:      v.GetString("format"),
		ServiceName: v.GetString("service"),
		File:        v.GetString("file"),
		FileOnly:    v.GetBool("file_only"),
		MaxSizeMB:   v.GetInt("max_size"),
		MaxBackups:  v.GetInt("max_backups"),
		MaxAgeDays:  v.GetInt("max_age"),
		Compress:    v.GetBool("compress"),
	}
}

// fileSink returns the rotating writer for File, or nil when File is empty.
func (e *EnvConfig) fileSink() *lumberjack.Logger {
	if e.File == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   e.File,
		MaxSize:    e.MaxSizeMB,
		MaxBackups: e.MaxBackups,
		MaxAge:     e.MaxAgeDays,
		Compress:   e.Compress,
	}
}
