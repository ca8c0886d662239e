package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sessionDomain "github.com/khing2004/ip-geo-web/internal/domain/session"
)

// Authenticator 以帳密向後端換取 bearer token。
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// LoginUseCase 驗證輸入、呼叫後端登入並保存 session。
type LoginUseCase struct {
	backend  Authenticator
	sessions sessionDomain.Holder
}

func NewLoginUseCase(backend Authenticator, sessions sessionDomain.Holder) *LoginUseCase {
	return &LoginUseCase{backend: backend, sessions: sessions}
}

type LoginInput struct {
	Email    string
	Password string
}

func (uc *LoginUseCase) Execute(ctx context.Context, input LoginInput) error {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || input.Password == "" {
		return errors.New("email and password required")
	}

	token, err := uc.backend.Login(ctx, email, input.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := uc.sessions.Set(ctx, token); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// LogoutUseCase 清除本機 session，回到未登入狀態。
type LogoutUseCase struct {
	sessions sessionDomain.Holder
}

func NewLogoutUseCase(sessions sessionDomain.Holder) *LogoutUseCase {
	return &LogoutUseCase{sessions: sessions}
}

func (uc *LogoutUseCase) Execute(ctx context.Context) error {
	return uc.sessions.Clear(ctx)
}
