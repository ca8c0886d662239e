package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sessionDomain "github.com/khing2004/ip-geo-web/internal/domain/session"

	"github.com/golang-jwt/jwt/v5"
)

// Store 將 session 憑證保存在本機狀態檔，重開程式後仍維持登入。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore 建立以 database/sql 為後盾的 session 儲存。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Get 讀取目前憑證；不存在或已確定過期時回傳 ErrNoSession。
func (s *Store) Get(ctx context.Context) (string, error) {
	const q = `SELECT token FROM sessions WHERE id = 1;`
	var token string
	if err := s.db.QueryRowContext(ctx, q).Scan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sessionDomain.ErrNoSession
		}
		return "", fmt.Errorf("read session: %w", err)
	}
	if tokenExpired(token, s.now()) {
		// 本機即可判定過期，不再送出註定失敗的請求
		return "", sessionDomain.ErrNoSession
	}
	return token, nil
}

// Set 寫入新憑證，覆蓋舊值。
func (s *Store) Set(ctx context.Context, token string) error {
	const q = `
INSERT INTO sessions (id, token, updated_at) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at;
`
	if _, err := s.db.ExecContext(ctx, q, token, s.now()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear 移除憑證，回到未登入狀態。
func (s *Store) Clear(ctx context.Context) error {
	const q = `DELETE FROM sessions WHERE id = 1;`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// tokenExpired 檢查 JWT 形式的憑證是否已過期。不驗簽，僅看 exp；
// 非 JWT 的 opaque token 一律視為有效，交由伺服器裁決。
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
