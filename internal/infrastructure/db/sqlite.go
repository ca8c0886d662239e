package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/khing2004/ip-geo-web/internal/infrastructure/config"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	token TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Open 開啟本機 SQLite 狀態檔並建立 schema；未設定路徑則回傳 nil。
func Open(ctx context.Context, cfg config.StateConfig) (*sql.DB, error) {
	if cfg.DBPath == "" {
		return nil, nil
	}

	conn, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, err
	}
	// 狀態檔僅供單一程序使用
	conn.SetMaxOpenConns(1)

	pingCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.ExecContext(pingCtx, schema); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
