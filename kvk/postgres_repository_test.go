package kvk_test

import (
	"context"
	"os"
	"testing"

	"kvk-backend/database"
	"kvk-backend/kvk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database when TEST_DATABASE_URL is set.
func newPostgresRepo(t *testing.T) *kvk.PostgresRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return kvk.NewPostgresRepository(db)
}

func TestPostgresIngestAndCascadeDelete(t *testing.T) {
	repo := newPostgresRepo(t)
	ctx := context.Background()
	svc := kvk.NewIngestService(repo, kvk.WithBatchSize(2))

	csv := "lord_id,name,alliance_id,home_server,highest_power\n" +
		"1,Alice,55,7,300\n" +
		"2,Bob,,7,200\n" +
		"0,Skip,,7,1\n" +
		"3,Cara,,9,100\n"
	res, err := svc.Ingest(ctx, kvk.IngestRequest{CSVData: csv, UploadDate: "2025-05-05"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.DeleteUpload(context.Background(), res.UploadID) })
	assert.Equal(t, 3, res.RecordCount)

	upload, err := repo.GetUpload(ctx, res.UploadID)
	require.NoError(t, err)
	assert.Equal(t, 3, upload.RecordCount)
	assert.True(t, upload.Finalized())
	assert.Equal(t, "kvk_2025-05-05.csv", upload.Filename)

	records, err := repo.ListPlayerStats(ctx, res.UploadID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.NotNil(t, records[0].AllianceID)
	assert.Equal(t, int64(55), *records[0].AllianceID)
	assert.Nil(t, records[1].AllianceID)

	require.NoError(t, svc.DeleteUpload(ctx, res.UploadID))
	_, err = repo.ListPlayerStats(ctx, res.UploadID)
	assert.ErrorIs(t, err, kvk.ErrUploadNotFound)
	assert.ErrorIs(t, svc.DeleteUpload(ctx, res.UploadID), kvk.ErrUploadNotFound)
	_, err = repo.GetUpload(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, kvk.ErrUploadNotFound)
}
