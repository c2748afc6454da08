package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var createTableSQL = map[string]string{
	DriverPostgres: `
	CREATE TABLE IF NOT EXISTS prediction_audit (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		model TEXT NOT NULL,
		prediction_code DOUBLE PRECISION NOT NULL,
		health_status TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		confidence_source TEXT NOT NULL,
		cached BOOLEAN NOT NULL,
		features JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prediction_audit_created_at ON prediction_audit(created_at);
	CREATE INDEX IF NOT EXISTS idx_prediction_audit_model ON prediction_audit(model);
	`,
	DriverSQLite: `
	CREATE TABLE IF NOT EXISTS prediction_audit (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		model TEXT NOT NULL,
		prediction_code REAL NOT NULL,
		health_status TEXT NOT NULL,
		confidence REAL NOT NULL,
		confidence_source TEXT NOT NULL,
		cached INTEGER NOT NULL,
		features TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prediction_audit_created_at ON prediction_audit(created_at);
	CREATE INDEX IF NOT EXISTS idx_prediction_audit_model ON prediction_audit(model);
	`,
}

const auditColumns = "id, request_id, model, prediction_code, health_status, confidence, confidence_source, cached, features, created_at"

// SQLSink пишет пачки аудита в таблицу prediction_audit (Postgres или SQLite)
type SQLSink struct {
	db     *sql.DB
	driver string
	insert string
}

// NewSQLSink открывает базу и создает таблицу, если ее нет
func NewSQLSink(ctx context.Context, driver, dsn string) (*SQLSink, error) {
	ddl, ok := createTableSQL[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported audit driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite допускает одного писателя
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLSink{
		db:     db,
		driver: driver,
		insert: fmt.Sprintf("INSERT INTO prediction_audit (%s) VALUES (%s)", auditColumns, placeholders(driver, 10)),
	}, nil
}

func placeholders(driver string, n int) string {
	ph := make([]string, n)
	for i := range ph {
		if driver == DriverPostgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

func (s *SQLSink) Consume(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range b.Records {
		_, err := stmt.ExecContext(ctx,
			r.ID,
			r.RequestID,
			r.Model,
			r.PredictionCode,
			r.HealthStatus,
			r.Confidence,
			r.ConfidenceSource,
			r.Cached,
			string(r.Features),
			r.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}
	return nil
}

// Recent возвращает последние записи, новые первыми
func (s *SQLSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	query := fmt.Sprintf("SELECT %s FROM prediction_audit ORDER BY created_at DESC LIMIT %s",
		auditColumns, placeholders(s.driver, 1))

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		var featuresJSON []byte
		var createdAt any

		if err := rows.Scan(
			&r.ID,
			&r.RequestID,
			&r.Model,
			&r.PredictionCode,
			&r.HealthStatus,
			&r.Confidence,
			&r.ConfidenceSource,
			&r.Cached,
			&featuresJSON,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		r.Features = featuresJSON
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// parseTime приводит значение колонки времени к time.Time: драйверы возвращают
// его по-разному в зависимости от объявленного типа
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	case int64:
		return time.Unix(t, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected created_at type %T", v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse created_at %q", s)
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}
