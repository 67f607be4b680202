// Package storage uploads pipeline artifacts to object storage.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresuchdata/controltower/internal/config"
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// ObjectStorage captures the minimal operations the pipeline needs.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	UploadObject(ctx context.Context, key string, data []byte, contentType string) error
}

// New returns the backend selected by cfg.Backend, or nil for "none".
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, nil
	case "minio", "s3":
		c, err := NewMinioClient(ctx, MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "drive":
		c, err := NewDriveClient(ctx, cfg.DriveCredentialsJSON, cfg.DriveFolderID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
