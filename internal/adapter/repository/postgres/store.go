package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/V4T54L/logrelay/internal/domain"
)

const logsTableName = "logs"

// Store implements domain.Store for PostgreSQL. The logs table columns are
// read once when the store is created; extra fields without a matching
// column are not written.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	logColumns map[string]struct{}
}

// Open connects to dsn and returns a ready Store. With migrate set, the
// bundled schema is applied before the logs table is introspected.
func Open(ctx context.Context, dsn string, migrate bool, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if migrate {
		if err := Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}
	s, err := New(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database handle and introspects the logs table.
func New(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.With("component", "postgres_store"),
	}
	if err := s.introspect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) introspect(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
		logsTableName)
	if err != nil {
		return fmt.Errorf("failed to introspect %s table: %w", logsTableName, err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s not found", logsTableName)
	}

	s.logColumns = cols
	s.logger.Debug("Introspected logs table", "columns", len(cols))
	return nil
}

func (s *Store) hasColumn(name string) bool {
	_, ok := s.logColumns[name]
	return ok
}

func (s *Store) FindHostByIP(ctx context.Context, ip string) (*domain.Host, error) {
	var h domain.Host
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, ip, name, last_seen_at FROM hosts WHERE ip = $1`, ip,
	).Scan(&h.ID, &h.IP, &h.Name, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find host %s: %w", ip, err)
	}
	if lastSeen.Valid {
		h.LastSeenAt = lastSeen.Time
	}
	return &h, nil
}

// InsertHost creates the host, or returns the existing ID if another writer
// created it first.
func (s *Store) InsertHost(ctx context.Context, host *domain.Host) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO hosts (ip, name, last_seen_at) VALUES ($1, $2, $3)
		 ON CONFLICT (ip) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at
		 RETURNING id`,
		host.IP, host.Name, nullTime(host),
	).Scan(&host.ID)
	if err != nil {
		return fmt.Errorf("failed to insert host %s: %w", host.IP, err)
	}
	return nil
}

func (s *Store) TouchHost(ctx context.Context, host *domain.Host) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE hosts SET last_seen_at = $2 WHERE id = $1`, host.ID, host.LastSeenAt,
	); err != nil {
		return fmt.Errorf("failed to touch host %s: %w", host.IP, err)
	}
	return nil
}

func (s *Store) FindSourceByName(ctx context.Context, name string) (*domain.Source, error) {
	var src domain.Source
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM log_sources WHERE name = $1`, name,
	).Scan(&src.ID, &src.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find source %s: %w", name, err)
	}
	return &src, nil
}

func (s *Store) InsertSource(ctx context.Context, source *domain.Source) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO log_sources (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		source.Name,
	).Scan(&source.ID)
	if err != nil {
		return fmt.Errorf("failed to insert source %s: %w", source.Name, err)
	}
	return nil
}

// InsertLog writes one row. With an event_id column, re-inserting the same
// event is ignored.
func (s *Store) InsertLog(ctx context.Context, record *domain.LogRecord) error {
	query, args := s.insertLogQuery(record)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

func (s *Store) insertLogQuery(record *domain.LogRecord) (string, []any) {
	cols := []string{"log_type", "log_time", "facility", "priority", "message", "msg_extra", "host_id", "source_id"}
	args := []any{int(record.Type), record.LogTime, record.Facility, record.Priority, record.Message, record.MsgExtra, record.HostID, record.SourceID}

	withEventID := s.hasColumn("event_id") && record.EventID != ""
	if withEventID {
		cols = append(cols, "event_id")
		args = append(args, record.EventID)
	}
	if s.hasColumn("redacted") {
		cols = append(cols, "redacted")
		args = append(args, record.Redacted)
	}
	for _, f := range record.Extra {
		if !s.hasColumn(f.Name) {
			continue
		}
		cols = append(cols, f.Name)
		args = append(args, f.Value)
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		logsTableName, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if withEventID {
		query += " ON CONFLICT (event_id) DO NOTHING"
	}
	return query, args
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(h *domain.Host) sql.NullTime {
	if h.LastSeenAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: h.LastSeenAt, Valid: true}
}
