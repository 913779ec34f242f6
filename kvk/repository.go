package kvk

import (
	"context"
	"time"
)

// Store persists upload manifests and the player records they own.
type Store interface {
	CreateUpload(ctx context.Context, upload UploadManifest) error
	// InsertPlayerStats writes one batch and returns the number of rows stored.
	InsertPlayerStats(ctx context.Context, uploadID string, records []PlayerStatRecord) (int, error)
	// FinalizeUpload records the stored row count and marks the upload complete.
	FinalizeUpload(ctx context.Context, uploadID string, recordCount int, finalizedAt time.Time) error
	ListUploads(ctx context.Context) ([]UploadManifest, error)
	GetUpload(ctx context.Context, uploadID string) (UploadManifest, error)
	ListPlayerStats(ctx context.Context, uploadID string) ([]PlayerStatRecord, error)
	// DeleteUpload removes the manifest and every record it owns.
	DeleteUpload(ctx context.Context, uploadID string) error
}
