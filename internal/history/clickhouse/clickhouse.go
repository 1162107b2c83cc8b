package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/panelsvc/internal/history"
)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port, native protocol) and creates table when missing.
func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			type String,
			occurred_at DateTime64(6),
			service String,
			pid UInt32,
			error Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY (service, occurred_at)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, service, pid, error) VALUES (?, ?, ?, ?, ?)`, s.table)
	var errStr *string
	if e.Error != "" {
		errStr = &e.Error
	}
	if err := s.conn.Exec(ctx, query, string(e.Type), e.OccurredAt, e.Service, uint32(e.PID), errStr); err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Count returns the number of stored events of type t.
func (s *Sink) Count(ctx context.Context, t history.EventType) (uint64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count() FROM %s WHERE type = ?`, s.table), string(t))
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
