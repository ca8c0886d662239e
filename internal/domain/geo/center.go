package geo

import (
	"math"
	"strconv"
	"strings"
)

// Coordinate 為地圖中心座標。
type Coordinate struct {
	Lat float64
	Lng float64
}

// DefaultCenter 為尚無查詢結果時的固定地圖中心（0,0）。
var DefaultCenter = Coordinate{Lat: 0, Lng: 0}

// DeriveCenter 將查詢結果換算成地圖中心。結果不存在、loc 欄位缺漏
// 或無法解析時回傳 DefaultCenter，不會產生 NaN 座標。
func DeriveCenter(r *Result) Coordinate {
	if r == nil || r.Loc == "" {
		return DefaultCenter
	}
	parts := strings.Split(r.Loc, ",")
	if len(parts) != 2 {
		return DefaultCenter
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return DefaultCenter
	}
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return DefaultCenter
	}
	return Coordinate{Lat: lat, Lng: lng}
}
