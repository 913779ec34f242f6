package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"kvk-backend/kvk"
)

// maxSnapshotBytes bounds a fetched CSV snapshot.
const maxSnapshotBytes = 64 << 20

// Source yields the full record set of one snapshot. Snapshots are loaded
// whole, never paginated.
type Source interface {
	Load(ctx context.Context) ([]kvk.PlayerStatRecord, error)
	Describe() string
}

// URLSource fetches a statically hosted CSV snapshot.
type URLSource struct {
	URL    string
	Client *http.Client
	// MaxBytes bounds the response body. Zero means maxSnapshotBytes.
	MaxBytes int64
}

func (s URLSource) Load(ctx context.Context) ([]kvk.PlayerStatRecord, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain, */*")
	req.Header.Set("User-Agent", "kvk-backend-leaderboard/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch snapshot: unexpected status %d", resp.StatusCode)
	}

	limit := s.MaxBytes
	if limit <= 0 {
		limit = maxSnapshotBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("snapshot exceeds %d bytes", limit)
	}
	records, _ := kvk.ParseDocument(string(body))
	return records, nil
}

func (s URLSource) Describe() string { return s.URL }

// FileSource reads a CSV snapshot from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) ([]kvk.PlayerStatRecord, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	records, _ := kvk.ParseDocument(string(data))
	return records, nil
}

func (s FileSource) Describe() string { return s.Path }

// UploadReader is the read side of the upload store.
type UploadReader interface {
	ListUploads(ctx context.Context) ([]kvk.UploadManifest, error)
	ListPlayerStats(ctx context.Context, uploadID string) ([]kvk.PlayerStatRecord, error)
}

// StoreSource loads one persisted upload, or the newest finalized one when
// UploadID is empty. An upload whose ingest failed part way is never picked
// as latest.
type StoreSource struct {
	Store    UploadReader
	UploadID string
}

func (s StoreSource) Load(ctx context.Context) ([]kvk.PlayerStatRecord, error) {
	uploadID := s.UploadID
	if uploadID == "" {
		uploads, err := s.Store.ListUploads(ctx)
		if err != nil {
			return nil, fmt.Errorf("list uploads: %w", err)
		}
		latest, ok := latestFinalized(uploads)
		if !ok {
			return nil, nil
		}
		uploadID = latest.ID
	}
	records, err := s.Store.ListPlayerStats(ctx, uploadID)
	if err != nil {
		if errors.Is(err, kvk.ErrUploadNotFound) {
			return nil, fmt.Errorf("upload %s: %w", uploadID, err)
		}
		return nil, fmt.Errorf("load upload %s: %w", uploadID, err)
	}
	return records, nil
}

// latestFinalized expects uploads newest first.
func latestFinalized(uploads []kvk.UploadManifest) (kvk.UploadManifest, bool) {
	for _, u := range uploads {
		if u.Finalized() {
			return u, true
		}
	}
	return kvk.UploadManifest{}, false
}

func (s StoreSource) Describe() string {
	if s.UploadID == "" {
		return "store:latest"
	}
	return "store:" + s.UploadID
}
