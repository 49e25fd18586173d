package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Transfer moves closed archives somewhere else after a cycle.
type Transfer interface {
	Transfer(ctx context.Context, dir string, files []string) error
}

// CommandTransfer runs a shell command in the archive directory. Its output
// is discarded; stderr is reported when the command fails.
type CommandTransfer struct {
	Command string
	Logger  *slog.Logger
}

// Transfer implements Transfer.
func (c *CommandTransfer) Transfer(ctx context.Context, dir string, _ []string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("running archive transfer command", "command", c.Command)

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", c.Command)
	cmd.Dir = dir
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return fmt.Errorf("transfer command exited with %d: %s", exit.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("run transfer command: %w", err)
	}
	return nil
}

// S3Uploader copies archives to an S3-compatible bucket.
type S3Uploader struct {
	client      *minio.Client
	bucket      string
	prefix      string
	removeLocal bool
	logger      *slog.Logger
}

// NewS3Uploader creates an uploader for cfg.
func NewS3Uploader(cfg S3Config, logger *slog.Logger) (*S3Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Uploader{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		removeLocal: cfg.RemoveLocal,
		logger:      logger,
	}, nil
}

// Transfer uploads files and, when configured, removes the local copies.
func (u *S3Uploader) Transfer(ctx context.Context, _ string, files []string) error {
	var errs []error
	for _, f := range files {
		key := path.Join(u.prefix, filepath.Base(f))
		info, err := u.client.FPutObject(ctx, u.bucket, key, f, minio.PutObjectOptions{
			ContentType: contentType(f),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", key, err))
			continue
		}
		u.logger.Info("archive uploaded", "bucket", u.bucket, "key", key, "size", info.Size)
		if u.removeLocal {
			if err := os.Remove(f); err != nil {
				errs = append(errs, fmt.Errorf("remove uploaded archive: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".gpg") {
		return "application/pgp-encrypted"
	}
	return "application/zip"
}
