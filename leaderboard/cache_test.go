package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kvk-backend/kvk"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	records []kvk.PlayerStatRecord
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubSource) Load(context.Context) ([]kvk.PlayerStatRecord, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.records, s.err
}

func (s *stubSource) Describe() string { return "stub" }

// flakyStore fails InsertPlayerStats on its failOn-th call.
type flakyStore struct {
	*kvk.MemoryRepository
	calls  int
	failOn int
}

func (s *flakyStore) InsertPlayerStats(ctx context.Context, uploadID string, records []kvk.PlayerStatRecord) (int, error) {
	s.calls++
	if s.calls == s.failOn {
		return 0, errors.New("connection reset by peer")
	}
	return s.MemoryRepository.InsertPlayerStats(ctx, uploadID, records)
}

func playersCSV(n int) string {
	var b strings.Builder
	b.WriteString("lord_id,name,home_server,highest_power\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d,lord%d,7,%d\n", i, i, i*100)
	}
	return b.String()
}

const snapshotCSV = "lord_id,name,home_server,highest_power\n" +
	"1,Alice,7,300\n" +
	"2,Bob,7,200\n" +
	"3,Cara,9,100\n"

func TestCacheFailedLoadYieldsEmptyBoard(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &stubSource{err: errors.New("network down")}
	reg := prometheus.NewRegistry()
	cache := NewCache(src, time.Minute,
		WithLoadMetrics(reg),
		WithRetryAfter(10*time.Second),
		WithClock(func() time.Time { return now }),
	)

	board, status := cache.Board(context.Background())
	assert.False(t, status.Loaded)
	assert.Contains(t, status.Error, "network down")
	assert.Equal(t, 0, board.Len())
	assert.Empty(t, board.Query(DefaultView()).Entries)

	// a failure is remembered for the retry window only
	_, status = cache.Board(context.Background())
	assert.False(t, status.Loaded)
	assert.Equal(t, int32(1), src.calls.Load())

	now = now.Add(11 * time.Second)
	cache.Board(context.Background())
	assert.Equal(t, int32(2), src.calls.Load())

	cache.Invalidate()
	cache.Board(context.Background())
	assert.Equal(t, int32(3), src.calls.Load())

	n, err := testutil.GatherAndCount(reg, "kvk_leaderboard_snapshot_loads_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCacheSharesSlowFailingLoad(t *testing.T) {
	src := &stubSource{err: errors.New("snapshot host down"), delay: 200 * time.Millisecond}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(src, time.Minute, WithClock(func() time.Time { return now }))

	const callers = 5
	var wg sync.WaitGroup
	start := make(chan struct{})
	statuses := make([]Status, callers)
	began := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			board, status := cache.Board(context.Background())
			assert.Equal(t, 0, board.Len())
			statuses[i] = status
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load(), "concurrent callers share one load")
	assert.Less(t, time.Since(began), time.Duration(callers)*src.delay)
	for _, st := range statuses {
		assert.False(t, st.Loaded)
		assert.Contains(t, st.Error, "snapshot host down")
	}
}

func TestCacheCallerCancelDoesNotFailSharedLoad(t *testing.T) {
	src := &stubSource{records: []kvk.PlayerStatRecord{{LordID: 1, HighestPower: 5}}}
	cache := NewCache(sourceFunc(func(ctx context.Context) ([]kvk.PlayerStatRecord, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return src.Load(ctx)
	}), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, status := cache.Board(ctx)
	assert.True(t, status.Loaded)
}

type sourceFunc func(ctx context.Context) ([]kvk.PlayerStatRecord, error)

func (f sourceFunc) Load(ctx context.Context) ([]kvk.PlayerStatRecord, error) { return f(ctx) }
func (f sourceFunc) Describe() string                                         { return "func" }

func TestCacheReusesBoardWithinTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &stubSource{records: []kvk.PlayerStatRecord{{LordID: 1, HomeServer: "7", HighestPower: 10}}}
	cache := NewCache(src, time.Minute, WithClock(func() time.Time { return now }))

	first, status := cache.Board(context.Background())
	require.True(t, status.Loaded)
	assert.Equal(t, 1, status.Records)

	now = now.Add(30 * time.Second)
	second, _ := cache.Board(context.Background())
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())

	now = now.Add(time.Minute)
	third, _ := cache.Board(context.Background())
	assert.NotSame(t, first, third)
	assert.Equal(t, int32(2), src.calls.Load())

	cache.Invalidate()
	cache.Board(context.Background())
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestURLSourceLoadsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshot.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(snapshotCSV))
	}))
	defer srv.Close()

	records, err := URLSource{URL: srv.URL + "/snapshot.csv"}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Alice", records[0].Name)

	_, err = URLSource{URL: srv.URL + "/missing.csv"}.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestURLSourceRejectsOversizedSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(snapshotCSV))
	}))
	defer srv.Close()

	_, err := URLSource{URL: srv.URL, MaxBytes: int64(len(snapshotCSV) - 1)}.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")

	records, err := URLSource{URL: srv.URL, MaxBytes: int64(len(snapshotCSV))}.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestFileSourceLoadsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.csv")
	require.NoError(t, os.WriteFile(path, []byte(snapshotCSV), 0o644))

	board, status := NewCache(FileSource{Path: path}, 0).Board(context.Background())
	require.True(t, status.Loaded)
	assert.Equal(t, []string{"7", "9"}, board.Servers())

	_, err := FileSource{Path: filepath.Join(t.TempDir(), "nope.csv")}.Load(context.Background())
	assert.Error(t, err)
}

func TestStoreSourcePicksLatestUpload(t *testing.T) {
	ctx := context.Background()
	repo := kvk.NewMemoryRepository()
	svc := kvk.NewIngestService(repo)

	_, err := svc.Ingest(ctx, kvk.IngestRequest{CSVData: snapshotCSV, UploadDate: "2025-01-01"})
	require.NoError(t, err)
	newer, err := svc.Ingest(ctx, kvk.IngestRequest{
		CSVData:    "lord_id,name,home_server,highest_power\n42,Zed,3,999\n",
		UploadDate: "2025-02-01",
	})
	require.NoError(t, err)

	records, err := StoreSource{Store: repo}.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(42), records[0].LordID)

	records, err = StoreSource{Store: repo, UploadID: newer.UploadID}.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = StoreSource{Store: repo, UploadID: "missing"}.Load(ctx)
	assert.ErrorIs(t, err, kvk.ErrUploadNotFound)

	empty, err := StoreSource{Store: kvk.NewMemoryRepository()}.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreSourceSkipsPartialUpload(t *testing.T) {
	ctx := context.Background()
	repo := kvk.NewMemoryRepository()

	good, err := kvk.NewIngestService(repo).Ingest(ctx, kvk.IngestRequest{CSVData: playersCSV(300), UploadDate: "2025-01-01"})
	require.NoError(t, err)

	flaky := &flakyStore{MemoryRepository: repo, failOn: 2}
	partial, err := kvk.NewIngestService(flaky, kvk.WithBatchSize(100)).Ingest(ctx, kvk.IngestRequest{CSVData: playersCSV(300), UploadDate: "2025-01-08"})
	require.Error(t, err)
	require.Equal(t, 100, repo.CountPlayerStats(partial.UploadID))

	records, err := StoreSource{Store: repo}.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 300)

	// pinning the partial upload still loads what it holds
	records, err = StoreSource{Store: repo, UploadID: partial.UploadID}.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 100)

	board, status := NewCache(StoreSource{Store: repo}, time.Minute).Board(ctx)
	require.True(t, status.Loaded)
	assert.Equal(t, 300, board.Len())
	assert.Equal(t, int64(30000), board.Query(DefaultView()).Entries[0].HighestPower)

	require.NoError(t, kvk.NewIngestService(repo).DeleteUpload(ctx, good.UploadID))
	records, err = StoreSource{Store: repo}.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "only a partial upload is left")
}

func TestStoreSourceAcceptsEmptyFinalizedUpload(t *testing.T) {
	ctx := context.Background()
	repo := kvk.NewMemoryRepository()
	svc := kvk.NewIngestService(repo)

	_, err := svc.Ingest(ctx, kvk.IngestRequest{CSVData: snapshotCSV, UploadDate: "2025-01-01"})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, kvk.IngestRequest{CSVData: "lord_id,name\n", UploadDate: "2025-02-01"})
	require.NoError(t, err)

	records, err := StoreSource{Store: repo}.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "a header-only upload is complete and newest")
}
