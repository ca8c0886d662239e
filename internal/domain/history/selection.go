package history

import "sort"

// Selection 為批次刪除勾選集合，僅存在於本機，成功刪除後清空。
type Selection map[string]struct{}

// NewSelection 建立空的勾選集合。
func NewSelection() Selection {
	return make(Selection)
}

// Toggle 切換 id 的勾選狀態，回傳切換後是否勾選。
func (s Selection) Toggle(id string) bool {
	if _, ok := s[id]; ok {
		delete(s, id)
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has 檢查 id 是否已勾選。
func (s Selection) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len 回傳勾選數量。
func (s Selection) Len() int {
	return len(s)
}

// IDs 回傳勾選 id 的排序列表，確保輸出穩定。
func (s Selection) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear 移除所有勾選。
func (s Selection) Clear() {
	for id := range s {
		delete(s, id)
	}
}

// Prune 移除不存在於最新列表的 id，維持 Selection ⊆ Log ids。
func (s Selection) Prune(l Log) {
	for id := range s {
		if !l.ContainsID(id) {
			delete(s, id)
		}
	}
}
