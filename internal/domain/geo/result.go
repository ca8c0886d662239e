package geo

// Result 為 provider 回傳的單筆 IP 地理資訊，回傳後不再修改。
type Result struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"` // "lat,lng"
	Timezone string `json:"timezone"`
	Org      string `json:"org"`
}

// Marker 為地圖標記所需的欄位子集。
type Marker struct {
	IP      string
	City    string
	Country string
}

// MarkerFor 由查詢結果取出地圖標記內容。
func MarkerFor(r *Result) Marker {
	if r == nil {
		return Marker{}
	}
	return Marker{IP: r.IP, City: r.City, Country: r.Country}
}
