package kvk

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a Store backed by maps. It is used by tests and by
// the server when STORE=memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	uploads map[string]UploadManifest
	records map[string][]PlayerStatRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		uploads: make(map[string]UploadManifest),
		records: make(map[string][]PlayerStatRecord),
	}
}

func (r *MemoryRepository) CreateUpload(_ context.Context, upload UploadManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	upload.FinalizedAt = nil
	r.uploads[upload.ID] = upload
	return nil
}

func (r *MemoryRepository) InsertPlayerStats(_ context.Context, uploadID string, records []PlayerStatRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.uploads[uploadID]; !ok {
		return 0, ErrUploadNotFound
	}
	for i := range records {
		r.records[uploadID] = append(r.records[uploadID], cloneRecord(records[i]))
	}
	return len(records), nil
}

func (r *MemoryRepository) FinalizeUpload(_ context.Context, uploadID string, recordCount int, finalizedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.uploads[uploadID]
	if !ok {
		return ErrUploadNotFound
	}
	m.RecordCount = recordCount
	at := finalizedAt.UTC()
	m.FinalizedAt = &at
	r.uploads[uploadID] = m
	return nil
}

func (r *MemoryRepository) ListUploads(_ context.Context) ([]UploadManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]UploadManifest, 0, len(r.uploads))
	for _, m := range r.uploads {
		out = append(out, cloneManifest(m))
	}
	sortUploads(out)
	return out, nil
}

func (r *MemoryRepository) GetUpload(_ context.Context, uploadID string) (UploadManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.uploads[uploadID]
	if !ok {
		return UploadManifest{}, ErrUploadNotFound
	}
	return cloneManifest(m), nil
}

func (r *MemoryRepository) ListPlayerStats(_ context.Context, uploadID string) ([]PlayerStatRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.uploads[uploadID]; !ok {
		return nil, ErrUploadNotFound
	}
	src := r.records[uploadID]
	out := make([]PlayerStatRecord, len(src))
	for i := range src {
		out[i] = cloneRecord(src[i])
	}
	return out, nil
}

func (r *MemoryRepository) DeleteUpload(_ context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.uploads[uploadID]; !ok {
		return ErrUploadNotFound
	}
	delete(r.records, uploadID)
	delete(r.uploads, uploadID)
	return nil
}

// CountPlayerStats reports how many records reference uploadID, including
// any left behind without a manifest.
func (r *MemoryRepository) CountPlayerStats(uploadID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records[uploadID])
}

func sortUploads(uploads []UploadManifest) {
	sort.SliceStable(uploads, func(i, j int) bool {
		if !uploads[i].UploadDate.Equal(uploads[j].UploadDate) {
			return uploads[i].UploadDate.After(uploads[j].UploadDate)
		}
		return uploads[i].CreatedAt.After(uploads[j].CreatedAt)
	})
}

func cloneManifest(m UploadManifest) UploadManifest {
	if m.FinalizedAt != nil {
		at := *m.FinalizedAt
		m.FinalizedAt = &at
	}
	return m
}

func cloneRecord(r PlayerStatRecord) PlayerStatRecord {
	if r.AllianceID != nil {
		id := *r.AllianceID
		r.AllianceID = &id
	}
	return r
}

var _ Store = (*MemoryRepository)(nil)
