package session

import (
	"context"
	"errors"
)

// ErrNoSession 表示目前沒有可用的登入憑證（未登入或已過期）。
var ErrNoSession = errors.New("no active session")

// Holder 持有目前帳號的 bearer 憑證，為全系統唯一的 session 來源。
// 未登入狀態以 ErrNoSession 表示；呼叫端收到後不得再發出需驗證的請求。
type Holder interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}
