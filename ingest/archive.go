package ingest

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/rushteam/recserve/core"
)

// Archive 持久化原始行为事件。
// 归档失败不阻塞实时链路，由调用方记录并继续。
type Archive interface {
	Store(ctx context.Context, ev core.BehaviorEvent) error
}

// NopArchive 丢弃所有事件。
type NopArchive struct{}

func (NopArchive) Store(context.Context, core.BehaviorEvent) error { return nil }

const (
	createBehaviorsSQL = `
CREATE TABLE IF NOT EXISTS user_behaviors (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    item_id    TEXT NOT NULL,
    action     TEXT NOT NULL,
    timestamp  TIMESTAMPTZ NOT NULL,
    session_id TEXT,
    page_url   TEXT,
    dwell_time DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_user_behaviors_user_ts ON user_behaviors (user_id, timestamp DESC)`

	insertBehaviorSQL = `
INSERT INTO user_behaviors (user_id, item_id, action, timestamp, session_id, page_url, dwell_time)
VALUES ($1, $2, $3, to_timestamp($4), $5, $6, $7)`
)

// PostgresArchive 写入 user_behaviors 表。
type PostgresArchive struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresArchive 使用已有连接池。
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db, now: time.Now}
}

// OpenPostgresArchive 按 DSN 打开连接池并检查连通性。
func OpenPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeUnavailable, err, "open archive database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeUnavailable, err, "ping archive database")
	}
	return NewPostgresArchive(db), nil
}

// EnsureSchema 建表（幂等）。
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, createBehaviorsSQL)
	return err
}

func (a *PostgresArchive) Store(ctx context.Context, ev core.BehaviorEvent) error {
	ts := core.EventTime(ev.Timestamp, a.now()).Unix()
	_, err := a.db.ExecContext(ctx, insertBehaviorSQL,
		ev.UserID, ev.ItemID, string(ev.Action), ts,
		nullString(ev.SessionID), nullString(ev.PageURL), ev.DwellTime,
	)
	if err != nil {
		return core.WrapDomainError(core.ModuleIngest, core.ErrorCodeUnavailable, err, "archive event")
	}
	return nil
}

func (a *PostgresArchive) Close() error { return a.db.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
