package geo

import "errors"

// 查詢相關錯誤
var (
	ErrInvalidIP           = errors.New("invalid ip address format")
	ErrNotFound            = errors.New("ip not found")
	ErrProviderUnavailable = errors.New("geolocation provider unavailable")
)

// 後端 history API 錯誤
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNetwork         = errors.New("network error")
	ErrServer          = errors.New("server error")
)
