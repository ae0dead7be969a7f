package storage

import (
	"strings"

	"github.com/timmy/gifengine/internal/config"
)

// NewStorage creates the mirror bucket client. An empty cfg.Type is detected
// from the endpoint host.
func NewStorage(cfg *config.StorageConfig) (*S3Storage, error) {
	kind := StorageType(cfg.Type)
	if kind == "" {
		kind = detectStorageType(cfg.Endpoint)
	}
	return newS3Storage(cfg, kind)
}

func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)
	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
