package app

import (
	"strings"

	"github.com/charlesng35/storefront/internal/ingest"
	"github.com/charlesng35/storefront/internal/storage/s3"
)

// S3StoreConfig converts the storage section into the S3 gateway configuration.
func (c StorageConfig) S3StoreConfig() s3.Config {
	return s3.Config{
		Region:          strings.TrimSpace(c.S3.Region),
		Bucket:          strings.TrimSpace(c.S3.Bucket),
		AccessKeyID:     strings.TrimSpace(c.S3.AccessKeyID),
		SecretAccessKey: c.S3.SecretAccessKey,
		Endpoint:        strings.TrimSpace(c.S3.Endpoint),
		UsePathStyle:    c.S3.PathStyle,
		CreateBucket:    c.S3.CreateBucket,
	}
}

// IngestOptions converts the uploads section into pipeline options. Zero
// values fall through to the pipeline defaults.
func (c UploadConfig) IngestOptions() ingest.Options {
	return ingest.Options{
		MaxFileBytes: c.MaxBytesPerField,
		MaxFiles:     c.MaxFiles,
		AllowedTypes: c.AllowedTypes,
		SpoolDir:     strings.TrimSpace(c.SpoolDir),
	}
}
