package memory

import (
	"context"
	"sync"

	sessionDomain "github.com/khing2004/ip-geo-web/internal/domain/session"
)

// SessionStore 為記憶體版的 session 持有者，程式結束即消失。
// 狀態檔無法開啟時作為退路，也供測試使用。
type SessionStore struct {
	mu    sync.RWMutex
	token string
	set   bool
}

// NewSessionStore 建立空的記憶體 session 儲存。
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) Get(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return "", sessionDomain.ErrNoSession
	}
	return s.token, nil
}

func (s *SessionStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.set = true
	return nil
}

func (s *SessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.set = false
	return nil
}
