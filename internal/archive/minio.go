// Package archive mirrors finished order run directories to S3-compatible
// object storage for off-site retention.
package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/pkg/log"
	"github.com/printlot-io/printlot/pkg/options"
)

var _ core.ArchiveProvider = (*minioProvider)(nil)

type minioProvider struct {
	client     *minio.Client
	bucketName string
	logger     log.Logger
}

// NewMinIOProvider creates an S3-protocol archive provider.
func NewMinIOProvider(opts *options.S3Options, logger log.Logger) (core.ArchiveProvider, error) {
	if logger == nil {
		logger = log.Std()
	}

	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
	}
	if opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &minioProvider{
		client:     client,
		bucketName: opts.BucketName,
		logger:     logger.WithName("archive"),
	}, nil
}

func (p *minioProvider) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		p.logger.Info("bucket does not exist, creating", "bucket", p.bucketName)
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// UploadRunDir walks localDir and uploads every regular file under
// keyPrefix, preserving the relative layout.
func (p *minioProvider) UploadRunDir(ctx context.Context, keyPrefix, localDir string) error {
	return filepath.WalkDir(localDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}

		key := keyPrefix + "/" + filepath.ToSlash(rel)
		contentType := "application/octet-stream"
		switch filepath.Ext(path) {
		case ".csv":
			contentType = "text/csv"
		case ".png":
			contentType = "image/png"
		}

		_, err = p.client.FPutObject(ctx, p.bucketName, key, path, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		p.logger.Debug("uploaded artifact", "key", key)
		return nil
	})
}
