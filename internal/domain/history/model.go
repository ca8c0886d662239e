package history

// Entry 為後端保存的一筆查詢紀錄；id 由伺服器指派，建立後不可變更。
type Entry struct {
	ID        string `json:"id"`
	IPAddress string `json:"ip_address"`
	City      string `json:"city"`
	Region    string `json:"region"`
	Country   string `json:"country"`
	Location  string `json:"location"`
}

// NewEntry 為送往後端建立紀錄的欄位，尚無 id。
type NewEntry struct {
	IPAddress string `json:"ip_address"`
	City      string `json:"city"`
	Region    string `json:"region"`
	Country   string `json:"country"`
	Location  string `json:"location"`
}

// Log 為伺服器回傳順序的紀錄列表；客戶端不重新排序。
type Log []Entry

// ByID 依 id 取得紀錄。
func (l Log) ByID(id string) (Entry, bool) {
	for _, e := range l {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ContainsID 檢查 id 是否存在於目前列表。
func (l Log) ContainsID(id string) bool {
	_, ok := l.ByID(id)
	return ok
}

// IDs 回傳列表內所有 id，保持伺服器順序。
func (l Log) IDs() []string {
	ids := make([]string, 0, len(l))
	for _, e := range l {
		ids = append(ids, e.ID)
	}
	return ids
}
