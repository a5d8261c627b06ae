// Package store is the SQLite-backed platform store: it serves the datasource
// registry, metadata-model store, job scheduler and user/role directory an
// export reads from, and keeps the history of finished exports.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BadgerOps/sysexport/internal/platform"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ platform.DatasourceRegistry = (*Store)(nil)
	_ platform.MetadataStore      = (*Store)(nil)
	_ platform.Scheduler          = (*Store)(nil)
	_ platform.Directory          = (*Store)(nil)
)

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared; callers must not
	// nest queries while rows are open.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// ExportRun Operations
// ============================================================================

// CreateExportRun inserts a new ExportRun and sets its ID
func (s *Store) CreateExportRun(run *ExportRun) error {
	const query = `
		INSERT INTO export_runs (
			export_id, path, compression, status, entries, size, sha256,
			phases_json, error_message, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	phases, err := json.Marshal(run.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal phase summary: %w", err)
	}

	result, err := s.db.Exec(
		query,
		run.ExportID, run.Path, run.Compression, run.Status, run.Entries,
		run.Size, run.SHA256, string(phases), run.ErrorMessage, run.StartTime, nullTime(run.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert export run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// ListExportRuns retrieves ExportRuns newest first, optionally limited
func (s *Store) ListExportRuns(limit int) ([]ExportRun, error) {
	query := `
		SELECT id, export_id, path, compression, status, entries, size, sha256,
		       phases_json, error_message, start_time, end_time
		FROM export_runs ORDER BY start_time DESC, id DESC
	`

	var rows *sql.Rows
	var err error

	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query export runs: %w", err)
	}
	defer rows.Close()

	var runs []ExportRun
	for rows.Next() {
		var (
			run    ExportRun
			phases string
			end    sql.NullTime
		)
		err := rows.Scan(
			&run.ID, &run.ExportID, &run.Path, &run.Compression, &run.Status,
			&run.Entries, &run.Size, &run.SHA256, &phases, &run.ErrorMessage, &run.StartTime, &end,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export run: %w", err)
		}
		if err := json.Unmarshal([]byte(phases), &run.Phases); err != nil {
			return nil, fmt.Errorf("failed to decode phases of export run %d: %w", run.ID, err)
		}
		run.EndTime = end.Time
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export runs: %w", err)
	}

	return runs, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func tenantOrDefault(tenant string) string {
	if tenant == "" {
		return DefaultTenant
	}
	return tenant
}
