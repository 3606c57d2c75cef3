package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/ppiankov/podspectre/internal/models"
)

// DefaultTable receives one row per reported pod per scan.
const DefaultTable = "podspectre_scan_history"

// Status values stored in the status column
const (
	StatusNew      = "new"
	StatusOngoing  = "ongoing"
	StatusResolved = "resolved"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Sink mirrors reconciled scans into ClickHouse.
type Sink struct {
	conn  *sql.DB
	table string
}

// Option configures a Sink
type Option func(*Sink)

// WithTable overrides the destination table, optionally qualified with a database.
func WithTable(table string) Option {
	return func(s *Sink) {
		s.table = table
	}
}

// Open connects to ClickHouse and makes sure the history table exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Sink, error) {
	chOpts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ClickHouse DSN: %w", err)
	}

	chOpts.MaxOpenConns = 4
	chOpts.MaxIdleConns = 2
	chOpts.ConnMaxLifetime = time.Hour
	chOpts.DialTimeout = 10 * time.Second

	conn := clickhouse.OpenDB(chOpts)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		if IsAuthError(err) {
			return nil, fmt.Errorf("ClickHouse rejected credentials: %w", err)
		}
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	sink, err := newSink(conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	slog.Info("history sink connected",
		slog.String("addr", strings.Join(chOpts.Addr, ",")),
		slog.String("table", sink.table),
	)
	return sink, nil
}

func newSink(conn *sql.DB, opts ...Option) (*Sink, error) {
	s := &Sink{conn: conn, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	if !tableNamePattern.MatchString(s.table) {
		return nil, fmt.Errorf("invalid history table name %q", s.table)
	}
	return s, nil
}

// Table returns the destination table name
func (s *Sink) Table() string {
	return s.table
}

// EnsureSchema creates the history table when it does not exist yet.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			scan_id String,
			scan_at DateTime64(3, 'UTC'),
			snapshot_date Date,
			engine LowCardinality(String),
			status LowCardinality(String),
			cluster LowCardinality(String),
			namespace String,
			pod String,
			phase LowCardinality(String),
			node String,
			reasons Array(String)
		)
		ENGINE = MergeTree
		ORDER BY (snapshot_date, cluster, namespace, pod, scan_at)
	`, s.table)

	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create history table %s: %w", s.table, err)
	}
	return nil
}

// Row is one pod of one scan as stored in ClickHouse.
type Row struct {
	ScanID       string
	ScanAt       time.Time
	SnapshotDate time.Time
	Engine       string
	Status       string
	models.PodIdentity
	Phase   string
	Node    string
	Reasons []string
}

// Rows flattens a scan state into history rows: new, ongoing, then resolved.
func Rows(state *models.ScanState) ([]Row, error) {
	date, err := time.Parse(time.DateOnly, state.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot date %q: %w", state.Date, err)
	}

	rows := make([]Row, 0, len(state.New)+len(state.Ongoing)+len(state.Resolved))
	add := func(status string, entries []models.AbnormalPodEntry) {
		for _, e := range entries {
			rows = append(rows, Row{
				ScanID:       state.ScanID,
				ScanAt:       state.LastScanAt.UTC(),
				SnapshotDate: date,
				Engine:       state.Engine,
				Status:       status,
				PodIdentity:  e.PodIdentity,
				Phase:        string(e.Phase),
				Node:         e.Node,
				Reasons:      e.Reasons,
			})
		}
	}
	add(StatusNew, state.New)
	add(StatusOngoing, state.Ongoing)
	add(StatusResolved, state.Resolved)
	return rows, nil
}

// Record inserts every pod of state in one batch.
func (s *Sink) Record(ctx context.Context, state *models.ScanState) error {
	rows, err := Rows(state)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (scan_id, scan_at, snapshot_date, engine, status, cluster, namespace, pod, phase, node, reasons)",
		s.table,
	))
	if err != nil {
		return fmt.Errorf("failed to prepare history batch: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		reasons := r.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		if _, err := stmt.ExecContext(ctx,
			r.ScanID, r.ScanAt, r.SnapshotDate, r.Engine, r.Status,
			r.Cluster, r.Namespace, r.Pod, r.Phase, r.Node, reasons,
		); err != nil {
			return fmt.Errorf("failed to append history row for %s: %w", r.PodIdentity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to send history batch: %w", err)
	}

	slog.Debug("history recorded",
		slog.String("scan_id", state.ScanID),
		slog.Int("rows", len(rows)),
	)
	return nil
}

// Close closes the ClickHouse connection
func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsAuthError reports whether ClickHouse refused the credentials.
func IsAuthError(err error) bool {
	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		switch chErr.Code {
		case 193, 194, 497, 516:
			return true
		}
	}
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "authentication failed") || strings.Contains(text, "code: 516")
}
