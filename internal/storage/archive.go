// Package storage archives raw import uploads to Supabase Storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"

	"github.com/justestif/spotify-listening-stats/internal/config"
)

// Archiver keeps a copy of an uploaded import file. It returns the stored
// object path.
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte) (string, error)
}

// NopArchiver discards uploads. Used when storage is not configured.
type NopArchiver struct{}

// Archive implements Archiver.
func (NopArchiver) Archive(context.Context, string, []byte) (string, error) {
	return "", nil
}

// SupabaseArchiver uploads to a Supabase Storage bucket under
// imports/<date>/<uuid>-<name>.
type SupabaseArchiver struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// NewSupabaseArchiver creates an archiver from cfg.
func NewSupabaseArchiver(cfg config.StorageConfig) *SupabaseArchiver {
	return &SupabaseArchiver{
		client: storage.NewClient(strings.TrimRight(cfg.URL, "/")+"/storage/v1", cfg.Key, nil),
		bucket: cfg.Bucket,
		now:    time.Now,
	}
}

// New returns a SupabaseArchiver when cfg is complete and a NopArchiver otherwise.
func New(cfg config.StorageConfig) Archiver {
	if !cfg.Enabled() {
		return NopArchiver{}
	}
	return NewSupabaseArchiver(cfg)
}

// Archive implements Archiver.
func (a *SupabaseArchiver) Archive(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	objectPath := a.objectPath(name)
	contentType := contentTypeOf(data)
	options := storage.FileOptions{
		ContentType: &contentType,
	}

	if _, err := a.client.UploadFile(a.bucket, objectPath, bytes.NewReader(data), options); err != nil {
		return "", fmt.Errorf("uploading %s: %w", objectPath, err)
	}
	return objectPath, nil
}

func (a *SupabaseArchiver) objectPath(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("imports/%s/%s-%s", a.now().UTC().Format("2006-01-02"), uuid.New(), base)
}

func contentTypeOf(data []byte) string {
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return "application/zip"
	}
	return "application/json"
}
