// Package archive retains raw notification text in Cloud Storage for cold
// audit. The engine archives every incoming event before parsing; the object
// survives even when parsing fails or the record is later dismissed.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// record is the archived form of one raw notification event.
type record struct {
	LedgerID   string    `json:"ledger_id"`
	SourceID   string    `json:"source_id"`
	RawText    string    `json:"raw_text"`
	PostedAt   time.Time `json:"posted_at"`
	ArchivedAt time.Time `json:"archived_at"`
}

// GCSArchiver writes one JSON object per raw notification. It assumes
// Application Default Credentials are configured.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchiver creates an archiver writing into bucket under prefix.
func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSArchiver: create storage client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Archive stores one raw event. Objects are named by posting date plus a
// fresh id, so re-sent notifications archive as distinct objects.
func (a *GCSArchiver) Archive(ctx context.Context, ledgerID, sourceID, rawText string, postedAt time.Time) error {
	rec := record{
		LedgerID:   ledgerID,
		SourceID:   sourceID,
		RawText:    rawText,
		PostedAt:   postedAt,
		ArchivedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Archive: marshal record: %w", err)
	}

	obj := a.client.Bucket(a.bucket).Object(a.objectName(ledgerID, postedAt))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Archive: write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Archive: finalize upload: %w", err)
	}
	return nil
}

// Fetch reads one archived record back by object name.
func (a *GCSArchiver) Fetch(ctx context.Context, objectName string) (string, error) {
	rc, err := a.client.Bucket(a.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("Fetch: reading object %s/%s: %w", a.bucket, objectName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("Fetch: unmarshal record: %w", err)
	}
	return rec.RawText, nil
}

// Close releases the underlying storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

func (a *GCSArchiver) objectName(ledgerID string, postedAt time.Time) string {
	name := fmt.Sprintf("%s/%s/%s.json", ledgerID, postedAt.UTC().Format("2006/01/02"), uuid.NewString())
	if a.prefix != "" {
		return a.prefix + "/" + name
	}
	return name
}
