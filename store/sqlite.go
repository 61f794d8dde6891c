package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/internal"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SqliteStore archives every harvest batch. A record is stored once per
// (source, notice_id); later runs only add batch metadata.
type SqliteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// BatchInfo is one archived run.
type BatchInfo struct {
	RunID       string `json:"run_id" db:"run_id"`
	CollectedAt string `json:"collected_at" db:"collected_at"`
	TotalRFPs   int    `json:"total_rfps" db:"total_rfps"`
	Duplicates  int    `json:"duplicates" db:"duplicates"`
	Simulated   bool   `json:"simulated" db:"simulated"`
}

func NewSqliteStore(dbpath string, logger *zap.Logger) (*SqliteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}

	store := SqliteStore{
		db:     db,
		logger: logger,
	}

	if err := store.setup(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbpath, err)
	}

	return &store, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) setup() error {
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{
		MigrationsTable: "migrations",
	})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("Nothing to migrate")
			return nil
		}
		return err
	}

	s.logger.Info("Successfully migrated to the latest version")
	return nil
}

// Save archives the batch in a single transaction.
func (s *SqliteStore) Save(ctx context.Context, batch *internal.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", internal.ErrPersistFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	art := batch.Artifact()
	if err := addBatch(ctx, tx, art); err != nil {
		return fmt.Errorf("%w: batch %s: %w", internal.ErrPersistFailure, art.RunID, err)
	}

	added := 0
	for _, rec := range art.RFPs {
		n, err := addRecord(ctx, tx, art.RunID, rec)
		if err != nil {
			return fmt.Errorf("%w: record %s/%s: %w", internal.ErrPersistFailure, rec.Source, rec.NoticeID, err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", internal.ErrPersistFailure, err)
	}

	s.logger.Info("Batch archived",
		zap.String("run_id", art.RunID),
		zap.Int("records", len(art.RFPs)),
		zap.Int("new", added),
	)
	return nil
}

func addBatch(ctx context.Context, tx *sql.Tx, art internal.Artifact) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO
        batches(run_id, collected_at, total_rfps, duplicates, simulated)
        VALUES
        (?, ?, ?, ?, ?)
    `, art.RunID, art.CollectedAt.UTC().Format(time.RFC3339), art.TotalRFPs, art.Duplicates, art.Simulated)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO
        batch_sources(run_id, source, accepted, rejected, duplicates, error, simulated, incomplete)
        VALUES
        (?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, name := range art.SourceNames() {
		rep := art.Sources[name]
		_, err := stmt.ExecContext(ctx, art.RunID, name, rep.Accepted, rep.Rejected, rep.Duplicates, rep.Error, rep.Simulated, rep.Incomplete)
		if err != nil {
			return err
		}
	}
	return nil
}

func addRecord(ctx context.Context, tx *sql.Tx, runID string, item internal.Record) (int64, error) {
	res, err := tx.ExecContext(ctx, `
        INSERT OR IGNORE INTO
        records(source, notice_id, title, agency, posted_date, due_date, description, url, simulated, first_run_id)
        VALUES
        (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, item.Source, item.NoticeID, item.Title, item.Agency, item.PostedDate, item.DueDate, item.Description, item.URL, item.Simulated, runID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetRecords returns archived records ordered by posted date, newest first.
// An empty source returns records of every source.
func (s *SqliteStore) GetRecords(ctx context.Context, source string) ([]internal.Record, error) {
	result := make([]internal.Record, 0)
	rows, err := s.db.QueryContext(ctx, `
        SELECT
            title,
            agency,
            posted_date,
            due_date,
            notice_id,
            description,
            source,
            url,
            simulated
        FROM records
        WHERE ? = '' OR source = ?
        ORDER BY posted_date DESC, source, notice_id
        ;
    `, source, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec internal.Record
		err := rows.Scan(
			&rec.Title,
			&rec.Agency,
			&rec.PostedDate,
			&rec.DueDate,
			&rec.NoticeID,
			&rec.Description,
			&rec.Source,
			&rec.URL,
			&rec.Simulated,
		)
		if err != nil {
			s.logger.Warn("Failed to get row", zap.Error(err))
			continue
		}
		result = append(result, rec)
	}

	return result, rows.Err()
}

// GetBatches returns archived runs, most recent first.
func (s *SqliteStore) GetBatches(ctx context.Context) ([]BatchInfo, error) {
	result := make([]BatchInfo, 0)
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, collected_at, total_rfps, duplicates, simulated
        FROM batches
        ORDER BY collected_at DESC
        ;
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var b BatchInfo
		if err := rows.Scan(&b.RunID, &b.CollectedAt, &b.TotalRFPs, &b.Duplicates, &b.Simulated); err != nil {
			s.logger.Warn("Failed to get row", zap.Error(err))
			continue
		}
		result = append(result, b)
	}

	return result, rows.Err()
}
