package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/khing2004/ip-geo-web/internal/domain/geo"
	"github.com/khing2004/ip-geo-web/internal/domain/history"
	sessionDomain "github.com/khing2004/ip-geo-web/internal/domain/session"
)

// Geolocator 查詢 IP 地理資訊。
type Geolocator interface {
	LookupSelf(ctx context.Context) (*geo.Result, error)
	LookupByIP(ctx context.Context, ip string) (*geo.Result, error)
}

// HistoryGateway 存取後端的查詢紀錄。
type HistoryGateway interface {
	ListHistory(ctx context.Context, token string) (history.Log, error)
	AppendHistory(ctx context.Context, token string, entry history.NewEntry) (history.Entry, error)
	DeleteHistory(ctx context.Context, token string, ids []string) error
}

// Phase 為目前查詢子狀態機的狀態。
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseValidating       Phase = "validating"
	PhaseQuerying         Phase = "querying"
	PhaseSuccess          Phase = "success"
	PhaseValidationFailed Phase = "validation_failed"
	PhaseLookupFailed     Phase = "lookup_failed"
)

var (
	// ErrBusy 表示同類操作尚未完成，重複觸發不被接受。
	ErrBusy = errors.New("operation already in flight")
	// ErrUnknownEntry 表示指定的紀錄 id 不存在於目前列表。
	ErrUnknownEntry = errors.New("unknown history entry")
)

// 使用者可見訊息，沿用前端文案。
const (
	msgInvalidIP      = "Invalid IP address format."
	msgLookupFailed   = "IP not found."
	msgSelfFailed     = "Failed to load IP info."
	msgHistoryFailed  = "Failed to load history."
	msgAppendFailed   = "Failed to record lookup."
	msgDeleteFailed   = "Failed to delete selected entries."
	msgSessionExpired = "Session expired. Please log in again."
)

// Snapshot 為協調器對外的唯一檢視狀態，內容皆為複本。
type Snapshot struct {
	Phase         Phase
	Result        *geo.Result
	Center        geo.Coordinate
	Marker        geo.Marker
	History       history.Log
	Selected      []string
	Input         string
	Err           string
	Authenticated bool
}

// Coordinator 串接驗證、provider 查詢與 history 同步，
// 並持有目前結果、紀錄列表、勾選集合與錯誤訊息。
//
// 網路呼叫在持鎖之外進行；seq 在登出時遞增，使已送出但被
// 登出超越的回應不會覆寫較新的狀態。同類操作以 in-flight
// 旗標擋下重複觸發，避免交錯寫入。
type Coordinator struct {
	geoc     Geolocator
	hist     HistoryGateway
	sessions sessionDomain.Holder

	mu         sync.Mutex
	phase      Phase
	result     *geo.Result
	log        history.Log
	sel        history.Selection
	input      string
	errMsg     string
	active     bool
	seq        uint64
	lookupBusy bool
	deleteBusy bool
}

// New 建立協調器；建立時即視為已登入的檢視。
func New(geoc Geolocator, hist HistoryGateway, sessions sessionDomain.Holder) *Coordinator {
	return &Coordinator{
		geoc:     geoc,
		hist:     hist,
		sessions: sessions,
		phase:    PhaseIdle,
		sel:      history.NewSelection(),
		active:   true,
	}
}

// Mount 同時載入自身 IP 的地理資訊與 history 列表；兩者互不影響，
// 任一失敗不會清空另一邊。未登入時直接拆除狀態並回報。
func (c *Coordinator) Mount(ctx context.Context) (Snapshot, error) {
	token, err := c.token(ctx)
	if err != nil {
		return c.forceLogout(ctx), err
	}

	c.mu.Lock()
	if c.lookupBusy {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrBusy
	}
	c.lookupBusy = true
	seq := c.seq
	c.mu.Unlock()

	var (
		wg      sync.WaitGroup
		selfRes *geo.Result
		selfErr error
		logRes  history.Log
		logErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		selfRes, selfErr = c.geoc.LookupSelf(ctx)
	}()
	go func() {
		defer wg.Done()
		logRes, logErr = c.hist.ListHistory(ctx, token)
	}()
	wg.Wait()

	c.mu.Lock()
	c.lookupBusy = false
	if seq != c.seq {
		defer c.mu.Unlock()
		return c.snapshotLocked(), nil
	}
	if errors.Is(logErr, geo.ErrUnauthenticated) {
		c.mu.Unlock()
		return c.forceLogout(ctx), logErr
	}
	if selfErr == nil {
		c.result = selfRes
	} else {
		c.errMsg = msgSelfFailed
	}
	if logErr == nil {
		c.log = logRes
		c.sel.Prune(c.log)
	} else {
		c.errMsg = msgHistoryFailed
	}
	defer c.mu.Unlock()
	return c.snapshotLocked(), nil
}

// Search 驗證輸入後查詢指定 IP。格式不合法不打網路；查詢成功才寫入
// history 並自伺服器重新取得列表（不在本地拼接），失敗則維持原狀態。
func (c *Coordinator) Search(ctx context.Context, raw string) (Snapshot, error) {
	ip := strings.TrimSpace(raw)

	c.mu.Lock()
	if c.lookupBusy {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrBusy
	}
	c.input = ip
	c.errMsg = ""
	c.phase = PhaseValidating
	if !geo.IsValidIPv4(ip) {
		c.phase = PhaseValidationFailed
		c.errMsg = msgInvalidIP
		defer c.mu.Unlock()
		return c.snapshotLocked(), nil
	}
	c.phase = PhaseQuerying
	c.lookupBusy = true
	seq := c.seq
	c.mu.Unlock()

	res, err := c.geoc.LookupByIP(ctx, ip)

	c.mu.Lock()
	if seq != c.seq {
		c.lookupBusy = false
		defer c.mu.Unlock()
		return c.snapshotLocked(), nil
	}
	if err != nil {
		c.lookupBusy = false
		c.phase = PhaseLookupFailed
		c.errMsg = msgLookupFailed
		defer c.mu.Unlock()
		return c.snapshotLocked(), nil
	}
	c.result = res
	c.phase = PhaseSuccess
	c.input = ""
	c.mu.Unlock()

	snap, err := c.recordLookup(ctx, seq, res)

	c.mu.Lock()
	c.lookupBusy = false
	c.mu.Unlock()
	return snap, err
}

// recordLookup 將成功的查詢寫入後端並重新同步列表。
func (c *Coordinator) recordLookup(ctx context.Context, seq uint64, res *geo.Result) (Snapshot, error) {
	token, err := c.token(ctx)
	if err != nil {
		return c.forceLogout(ctx), err
	}

	entry := history.NewEntry{
		IPAddress: res.IP,
		City:      res.City,
		Region:    res.Region,
		Country:   res.Country,
		Location:  res.Loc,
	}
	if _, err := c.hist.AppendHistory(ctx, token, entry); err != nil {
		if errors.Is(err, geo.ErrUnauthenticated) {
			return c.forceLogout(ctx), err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if seq == c.seq {
			c.errMsg = msgAppendFailed
		}
		return c.snapshotLocked(), nil
	}

	return c.refreshHistory(ctx, seq, token)
}

// refreshHistory 自伺服器重抓列表並修剪勾選集合。
func (c *Coordinator) refreshHistory(ctx context.Context, seq uint64, token string) (Snapshot, error) {
	logRes, err := c.hist.ListHistory(ctx, token)
	if errors.Is(err, geo.ErrUnauthenticated) {
		return c.forceLogout(ctx), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		return c.snapshotLocked(), nil
	}
	if err != nil {
		c.errMsg = msgHistoryFailed
		return c.snapshotLocked(), nil
	}
	c.log = logRes
	c.sel.Prune(c.log)
	return c.snapshotLocked(), nil
}

// Clear 重置輸入與錯誤，改回顯示自身 IP 的地理資訊；
// history 與勾選集合不受影響。
func (c *Coordinator) Clear(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.lookupBusy {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrBusy
	}
	c.input = ""
	c.errMsg = ""
	c.phase = PhaseIdle
	c.lookupBusy = true
	seq := c.seq
	c.mu.Unlock()

	res, err := c.geoc.LookupSelf(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookupBusy = false
	if seq != c.seq {
		return c.snapshotLocked(), nil
	}
	if err != nil {
		c.errMsg = msgSelfFailed
		return c.snapshotLocked(), nil
	}
	c.result = res
	return c.snapshotLocked(), nil
}

// Revisit 以紀錄中保存的 IP 重新查詢並顯示結果。唯讀：
// 不新增紀錄，也不動勾選集合。
func (c *Coordinator) Revisit(ctx context.Context, id string) (Snapshot, error) {
	c.mu.Lock()
	if c.lookupBusy {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrBusy
	}
	entry, ok := c.log.ByID(id)
	if !ok {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrUnknownEntry
	}
	c.errMsg = ""
	c.phase = PhaseQuerying
	c.lookupBusy = true
	seq := c.seq
	c.mu.Unlock()

	res, err := c.geoc.LookupByIP(ctx, entry.IPAddress)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookupBusy = false
	if seq != c.seq {
		return c.snapshotLocked(), nil
	}
	if err != nil {
		c.phase = PhaseLookupFailed
		c.errMsg = msgLookupFailed
		return c.snapshotLocked(), nil
	}
	c.result = res
	c.phase = PhaseSuccess
	return c.snapshotLocked(), nil
}

// ToggleSelect 切換一筆紀錄的勾選狀態，不打網路。
func (c *Coordinator) ToggleSelect(id string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.log.ContainsID(id) {
		return c.snapshotLocked(), ErrUnknownEntry
	}
	c.sel.Toggle(id)
	return c.snapshotLocked(), nil
}

// DeleteSelected 批次刪除勾選的紀錄。成功後清空勾選並自伺服器
// 重新同步；失敗則勾選與列表皆維持原狀（不做樂觀刪除）。
func (c *Coordinator) DeleteSelected(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.deleteBusy {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrBusy
	}
	if c.sel.Len() == 0 {
		defer c.mu.Unlock()
		return c.snapshotLocked(), nil
	}
	ids := c.sel.IDs()
	c.deleteBusy = true
	seq := c.seq
	c.mu.Unlock()

	snap, err := c.deleteAndRefresh(ctx, seq, ids)

	c.mu.Lock()
	c.deleteBusy = false
	c.mu.Unlock()
	return snap, err
}

func (c *Coordinator) deleteAndRefresh(ctx context.Context, seq uint64, ids []string) (Snapshot, error) {
	token, err := c.token(ctx)
	if err != nil {
		return c.forceLogout(ctx), err
	}

	if err := c.hist.DeleteHistory(ctx, token, ids); err != nil {
		if errors.Is(err, geo.ErrUnauthenticated) {
			return c.forceLogout(ctx), err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if seq == c.seq {
			c.errMsg = msgDeleteFailed
		}
		return c.snapshotLocked(), nil
	}

	c.mu.Lock()
	if seq == c.seq {
		c.sel.Clear()
		c.errMsg = ""
	}
	c.mu.Unlock()

	return c.refreshHistory(ctx, seq, token)
}

// Logout 清除 session 與所有記憶體狀態，回到未登入路由。
func (c *Coordinator) Logout(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	c.teardownLocked()
	c.errMsg = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.sessions.Clear(ctx); err != nil {
		return snap, fmt.Errorf("clear session: %w", err)
	}
	return snap, nil
}

// View 回傳目前狀態的複本，不觸發任何動作。
func (c *Coordinator) View() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// forceLogout 為 Unauthenticated 的強制拆除：清空狀態並丟棄 session。
func (c *Coordinator) forceLogout(ctx context.Context) Snapshot {
	c.mu.Lock()
	c.teardownLocked()
	c.errMsg = msgSessionExpired
	snap := c.snapshotLocked()
	c.mu.Unlock()
	_ = c.sessions.Clear(ctx)
	return snap
}

func (c *Coordinator) teardownLocked() {
	c.seq++
	c.result = nil
	c.log = nil
	c.sel = history.NewSelection()
	c.input = ""
	c.phase = PhaseIdle
	c.active = false
}

func (c *Coordinator) token(ctx context.Context) (string, error) {
	token, err := c.sessions.Get(ctx)
	if err != nil {
		if errors.Is(err, sessionDomain.ErrNoSession) {
			return "", fmt.Errorf("%w: %v", geo.ErrUnauthenticated, err)
		}
		return "", fmt.Errorf("read session: %w", err)
	}
	return token, nil
}

func (c *Coordinator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:         c.phase,
		Center:        geo.DeriveCenter(c.result),
		Marker:        geo.MarkerFor(c.result),
		Selected:      c.sel.IDs(),
		Input:         c.input,
		Err:           c.errMsg,
		Authenticated: c.active,
	}
	if c.result != nil {
		r := *c.result
		snap.Result = &r
	}
	if c.log != nil {
		snap.History = append(history.Log(nil), c.log...)
	}
	return snap
}
