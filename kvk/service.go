package kvk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize   = 500
	DefaultConcurrency = 1
)

// IngestService is the only writer of uploads and player stats.
type IngestService struct {
	store       Store
	batchSize   int
	concurrency int
	metrics     *Metrics
	now         func() time.Time
}

type Option func(*IngestService)

func WithBatchSize(n int) Option {
	return func(s *IngestService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency bounds how many batches are written at once. The default
// of 1 writes batches strictly in order.
func WithConcurrency(n int) Option {
	return func(s *IngestService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *IngestService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *IngestService) { s.now = now }
}

func NewIngestService(store Store, opts ...Option) *IngestService {
	s := &IngestService{
		store:       store,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest decodes a CSV document and stores it under a new upload manifest.
// The manifest exists before any player row is written; its record_count is
// set once every batch has been stored.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	started := s.now()

	if strings.TrimSpace(req.CSVData) == "" {
		return IngestResult{}, &ValidationError{Field: "csvData", Message: "csvData is required"}
	}
	if strings.TrimSpace(req.UploadDate) == "" {
		return IngestResult{}, &ValidationError{Field: "uploadDate", Message: "uploadDate is required"}
	}
	uploadDate, err := ParseUploadDate(req.UploadDate)
	if err != nil {
		return IngestResult{}, err
	}

	records, stats := ParseDocument(req.CSVData)

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = DefaultFilename(uploadDate)
	}

	upload := UploadManifest{
		ID:          uuid.NewString(),
		Filename:    filename,
		UploadDate:  uploadDate,
		RecordCount: 0,
		CreatedAt:   started.UTC(),
	}
	if err := s.store.CreateUpload(ctx, upload); err != nil {
		s.metrics.ingest(false, 0, stats.Skipped, 0)
		return IngestResult{}, &PersistenceError{Op: "create upload", Batch: -1, Err: err}
	}

	persisted, err := s.writeBatches(ctx, upload.ID, records)
	if err != nil {
		log.Printf("[INGEST] upload %s failed after %d of %d records: %v", upload.ID, persisted, len(records), err)
		s.metrics.ingest(false, persisted, stats.Skipped, 0)
		return IngestResult{UploadID: upload.ID, RecordCount: persisted, Skipped: stats.Skipped}, err
	}

	if err := s.store.FinalizeUpload(ctx, upload.ID, persisted, s.now().UTC()); err != nil {
		s.metrics.ingest(false, persisted, stats.Skipped, 0)
		return IngestResult{UploadID: upload.ID, RecordCount: persisted, Skipped: stats.Skipped},
			&PersistenceError{Op: "finalize upload", Batch: -1, Err: err}
	}

	elapsed := s.now().Sub(started)
	s.metrics.ingest(true, persisted, stats.Skipped, elapsed)
	log.Printf("[INGEST] upload %s (%s, %s): %d records stored, %d rows skipped in %s",
		upload.ID, upload.Filename, upload.UploadDate.Format(DateLayout), persisted, stats.Skipped, elapsed.Round(time.Millisecond))

	return IngestResult{UploadID: upload.ID, RecordCount: persisted, Skipped: stats.Skipped}, nil
}

func (s *IngestService) writeBatches(ctx context.Context, uploadID string, records []PlayerStatRecord) (int, error) {
	var persisted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for batch, start := 0, 0; start < len(records); batch, start = batch+1, start+s.batchSize {
		if gctx.Err() != nil {
			break
		}
		end := min(start+s.batchSize, len(records))
		chunk := records[start:end]
		batchNo := batch

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := s.store.InsertPlayerStats(gctx, uploadID, chunk)
			if err != nil {
				s.metrics.batch(false)
				return &PersistenceError{Op: "insert player stats", Batch: batchNo, Err: err}
			}
			s.metrics.batch(true)
			persisted.Add(int64(n))
			return nil
		})
	}

	err := g.Wait()
	if err == nil && int(persisted.Load()) < len(records) {
		err = ctx.Err()
	}
	var perr *PersistenceError
	if err != nil && !errors.As(err, &perr) {
		err = &PersistenceError{Op: "insert player stats", Batch: -1, Err: err}
	}
	return int(persisted.Load()), err
}

// ListUploads returns manifests newest upload date first.
func (s *IngestService) ListUploads(ctx context.Context) ([]UploadManifest, error) {
	uploads, err := s.store.ListUploads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return uploads, nil
}

func (s *IngestService) GetUpload(ctx context.Context, uploadID string) (UploadManifest, error) {
	if strings.TrimSpace(uploadID) == "" {
		return UploadManifest{}, &ValidationError{Field: "uploadId", Message: "uploadId is required"}
	}
	return s.store.GetUpload(ctx, strings.TrimSpace(uploadID))
}

// UploadRecords returns the records stored under one upload.
func (s *IngestService) UploadRecords(ctx context.Context, uploadID string) ([]PlayerStatRecord, error) {
	if strings.TrimSpace(uploadID) == "" {
		return nil, &ValidationError{Field: "uploadId", Message: "uploadId is required"}
	}
	records, err := s.store.ListPlayerStats(ctx, strings.TrimSpace(uploadID))
	if err != nil {
		if errors.Is(err, ErrUploadNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("list player stats: %w", err)
	}
	return records, nil
}

// DeleteUpload removes a manifest together with all of its records.
func (s *IngestService) DeleteUpload(ctx context.Context, uploadID string) error {
	uploadID = strings.TrimSpace(uploadID)
	if uploadID == "" {
		return &ValidationError{Field: "uploadId", Message: "uploadId is required"}
	}
	if err := s.store.DeleteUpload(ctx, uploadID); err != nil {
		if errors.Is(err, ErrUploadNotFound) {
			return ErrUploadNotFound
		}
		return &DeleteError{UploadID: uploadID, Err: err}
	}
	s.metrics.deleted()
	log.Printf("[INGEST] upload %s deleted", uploadID)
	return nil
}

func ParseUploadDate(value string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "uploadDate", Message: "uploadDate must be YYYY-MM-DD"}
	}
	return d, nil
}

func DefaultFilename(uploadDate time.Time) string {
	return "kvk_" + uploadDate.Format(DateLayout) + ".csv"
}
