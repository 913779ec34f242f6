package kvk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateUpload(ctx context.Context, upload UploadManifest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uploads (id, filename, upload_date, record_count, created_at)
		VALUES ($1, $2, $3::date, $4, $5)
	`, upload.ID, upload.Filename, upload.UploadDate.Format(DateLayout), upload.RecordCount, upload.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// InsertPlayerStats copies one batch into player_stats inside its own
// transaction.
func (r *PostgresRepository) InsertPlayerStats(ctx context.Context, uploadID string, records []PlayerStatRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin player stats transaction: %w", err)
	}
	defer tx.Rollback()

	cols := append([]string{"upload_id"}, ColumnNames()...)
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("player_stats", cols...))
	if err != nil {
		return 0, fmt.Errorf("prepare player stats copy: %w", err)
	}

	for i := range records {
		args := append([]any{uploadID}, recordValues(&records[i])...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			return 0, fmt.Errorf("copy player stat lord_id=%d: %w", records[i].LordID, mapPQError(err))
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("flush player stats copy: %w", mapPQError(err))
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("close player stats copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit player stats transaction: %w", err)
	}
	return len(records), nil
}

func (r *PostgresRepository) FinalizeUpload(ctx context.Context, uploadID string, recordCount int, finalizedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE uploads SET record_count = $2, finalized_at = $3 WHERE id = $1
	`, uploadID, recordCount, finalizedAt)
	if err != nil {
		return fmt.Errorf("update upload record_count: %w", mapPQError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUploadNotFound
	}
	return nil
}

func (r *PostgresRepository) ListUploads(ctx context.Context) ([]UploadManifest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+manifestColumns+`
		FROM uploads
		ORDER BY upload_date DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	uploads := make([]UploadManifest, 0)
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return uploads, nil
}

func (r *PostgresRepository) GetUpload(ctx context.Context, uploadID string) (UploadManifest, error) {
	m, err := scanManifest(r.db.QueryRowContext(ctx, `
		SELECT `+manifestColumns+`
		FROM uploads
		WHERE id = $1
	`, uploadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UploadManifest{}, ErrUploadNotFound
		}
		return UploadManifest{}, fmt.Errorf("query upload: %w", mapPQError(err))
	}
	return m, nil
}

func (r *PostgresRepository) ListPlayerStats(ctx context.Context, uploadID string) ([]PlayerStatRecord, error) {
	if _, err := r.GetUpload(ctx, uploadID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+strings.Join(ColumnNames(), ", ")+`
		FROM player_stats
		WHERE upload_id = $1
		ORDER BY id ASC
	`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("query player stats: %w", err)
	}
	defer rows.Close()

	out := make([]PlayerStatRecord, 0, 256)
	for rows.Next() {
		var rec PlayerStatRecord
		var allianceID sql.NullInt64
		if err := rows.Scan(scanTargets(&rec, &allianceID)...); err != nil {
			return nil, fmt.Errorf("scan player stat: %w", err)
		}
		if allianceID.Valid {
			v := allianceID.Int64
			rec.AllianceID = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate player stats: %w", err)
	}
	return out, nil
}

// DeleteUpload sweeps the upload's player rows and the manifest in one
// transaction. The foreign key also cascades.
func (r *PostgresRepository) DeleteUpload(ctx context.Context, uploadID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM player_stats WHERE upload_id = $1`, uploadID); err != nil {
		return fmt.Errorf("delete player stats: %w", mapPQError(err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = $1`, uploadID)
	if err != nil {
		return fmt.Errorf("delete upload: %w", mapPQError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUploadNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete transaction: %w", err)
	}
	return nil
}

const manifestColumns = "id, filename, upload_date, record_count, created_at, finalized_at"

func scanManifest(row interface{ Scan(dest ...any) error }) (UploadManifest, error) {
	var m UploadManifest
	var finalizedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.Filename, &m.UploadDate, &m.RecordCount, &m.CreatedAt, &finalizedAt); err != nil {
		return UploadManifest{}, err
	}
	if finalizedAt.Valid {
		at := finalizedAt.Time.UTC()
		m.FinalizedAt = &at
	}
	return m, nil
}

func recordValues(rec *PlayerStatRecord) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		switch c.kind {
		case kindInt:
			out[i] = *c.num(rec)
		case kindString:
			out[i] = *c.str(rec)
		case kindNullableInt:
			if v := *c.opt(rec); v != nil {
				out[i] = *v
			} else {
				out[i] = nil
			}
		}
	}
	return out
}

func scanTargets(rec *PlayerStatRecord, allianceID *sql.NullInt64) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		switch c.kind {
		case kindInt:
			out[i] = c.num(rec)
		case kindString:
			out[i] = c.str(rec)
		case kindNullableInt:
			out[i] = allianceID
		}
	}
	return out
}

// mapPQError turns "not a uuid" and foreign-key violations into
// ErrUploadNotFound.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "22P02", "23503":
			return fmt.Errorf("%w: %s", ErrUploadNotFound, pqErr.Message)
		}
	}
	return err
}

var _ Store = (*PostgresRepository)(nil)
