package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/khing2004/ip-geo-web/internal/domain/geo"
	"github.com/khing2004/ip-geo-web/internal/domain/history"
	"github.com/khing2004/ip-geo-web/internal/infra/memory"
)

type fakeGeo struct {
	selfRes   *geo.Result
	selfErr   error
	byIP      map[string]*geo.Result
	lookupErr error

	selfCalls   int32
	lookupCalls int32

	// 設定後 LookupByIP 會先通知 entered 再等待 release，供重入測試使用。
	entered chan struct{}
	release chan struct{}
}

func (f *fakeGeo) LookupSelf(_ context.Context) (*geo.Result, error) {
	atomic.AddInt32(&f.selfCalls, 1)
	if f.selfErr != nil {
		return nil, f.selfErr
	}
	r := *f.selfRes
	return &r, nil
}

func (f *fakeGeo) LookupByIP(_ context.Context, ip string) (*geo.Result, error) {
	atomic.AddInt32(&f.lookupCalls, 1)
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if r, ok := f.byIP[ip]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: %s", geo.ErrNotFound, ip)
}

// fakeHistory 模擬後端：列表順序固定、append 指派 id、刪除容忍不存在的 id。
type fakeHistory struct {
	mu      sync.Mutex
	entries history.Log
	nextID  int

	listErr   error
	appendErr error
	deleteErr error

	appendCalls int32
	listCalls   int32
}

func (f *fakeHistory) ListHistory(_ context.Context, _ string) (history.Log, error) {
	atomic.AddInt32(&f.listCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append(history.Log(nil), f.entries...), nil
}

func (f *fakeHistory) AppendHistory(_ context.Context, _ string, entry history.NewEntry) (history.Entry, error) {
	atomic.AddInt32(&f.appendCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return history.Entry{}, f.appendErr
	}
	f.nextID++
	e := history.Entry{
		ID:        fmt.Sprintf("h-%d", f.nextID),
		IPAddress: entry.IPAddress,
		City:      entry.City,
		Region:    entry.Region,
		Country:   entry.Country,
		Location:  entry.Location,
	}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeHistory) DeleteHistory(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := f.entries[:0]
	for _, e := range f.entries {
		if _, gone := drop[e.ID]; !gone {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

func newTestGeo() *fakeGeo {
	return &fakeGeo{
		selfRes: &geo.Result{IP: "203.0.113.9", City: "Taipei", Country: "TW", Loc: "25.0478,121.5319"},
		byIP: map[string]*geo.Result{
			"8.8.8.8": {IP: "8.8.8.8", City: "Mountain View", Region: "California", Country: "US", Loc: "37.4056,-122.0775"},
			"1.1.1.1": {IP: "1.1.1.1", City: "Sydney", Country: "AU", Loc: "-33.8688,151.2093"},
		},
	}
}

func newTestCoordinator(t *testing.T, geoc Geolocator, hist HistoryGateway) *Coordinator {
	t.Helper()
	sessions := memory.NewSessionStore()
	if err := sessions.Set(context.Background(), "tok-test"); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return New(geoc, hist, sessions)
}

func TestCoordinator_Mount(t *testing.T) {
	ctx := context.Background()

	t.Run("both_succeed", func(t *testing.T) {
		geoc := newTestGeo()
		hist := &fakeHistory{entries: history.Log{{ID: "h-1", IPAddress: "8.8.8.8"}}}
		c := newTestCoordinator(t, geoc, hist)

		snap, err := c.Mount(ctx)
		if err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		if snap.Result == nil || snap.Result.IP != "203.0.113.9" {
			t.Errorf("expected self result, got %+v", snap.Result)
		}
		if len(snap.History) != 1 {
			t.Errorf("expected 1 history entry, got %d", len(snap.History))
		}
		if snap.Center == geo.DefaultCenter {
			t.Error("expected center derived from self result")
		}
	})

	t.Run("self_failure_does_not_blank_history", func(t *testing.T) {
		geoc := newTestGeo()
		geoc.selfErr = geo.ErrProviderUnavailable
		hist := &fakeHistory{entries: history.Log{{ID: "h-1", IPAddress: "8.8.8.8"}}}
		c := newTestCoordinator(t, geoc, hist)

		snap, err := c.Mount(ctx)
		if err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		if len(snap.History) != 1 {
			t.Errorf("history should load despite self failure, got %d entries", len(snap.History))
		}
		if snap.Err == "" {
			t.Error("expected error message")
		}
	})

	t.Run("history_failure_does_not_blank_result", func(t *testing.T) {
		geoc := newTestGeo()
		hist := &fakeHistory{listErr: geo.ErrNetwork}
		c := newTestCoordinator(t, geoc, hist)

		snap, err := c.Mount(ctx)
		if err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		if snap.Result == nil {
			t.Error("self result should load despite history failure")
		}
		if snap.Err == "" {
			t.Error("expected error message")
		}
	})

	t.Run("no_session_fails_fast", func(t *testing.T) {
		geoc := newTestGeo()
		hist := &fakeHistory{}
		c := New(geoc, hist, memory.NewSessionStore())

		snap, err := c.Mount(ctx)
		if !errors.Is(err, geo.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
		if snap.Authenticated {
			t.Error("expected unauthenticated snapshot")
		}
		if atomic.LoadInt32(&geoc.selfCalls) != 0 || atomic.LoadInt32(&hist.listCalls) != 0 {
			t.Error("no network call may be made without a session")
		}
	})

	t.Run("stale_session_forces_logout", func(t *testing.T) {
		geoc := newTestGeo()
		hist := &fakeHistory{listErr: geo.ErrUnauthenticated}
		c := newTestCoordinator(t, geoc, hist)

		snap, err := c.Mount(ctx)
		if !errors.Is(err, geo.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
		if snap.Authenticated || snap.Result != nil || len(snap.History) != 0 {
			t.Errorf("expected torn-down snapshot, got %+v", snap)
		}
	})
}

func TestCoordinator_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid_ip_no_network", func(t *testing.T) {
		geoc := newTestGeo()
		hist := &fakeHistory{}
		c := newTestCoordinator(t, geoc, hist)

		snap, err := c.Search(ctx, "999.1.1.1")
		if err != nil {
			t.Fatalf("Search returned error: %v", err)
		}
		if snap.Phase != PhaseValidationFailed {
			t.Errorf("expected validation_failed, got %s", snap.Phase)
		}
		if snap.Err != "Invalid IP address format." {
			t.Errorf("unexpected message: %q", snap.Err)
		}
		if atomic.LoadInt32(&geoc.lookupCalls) != 0 {
			t.Error("validation failure must not hit the network")
		}
	})

	t.Run("success_appends_and_reconciles", func(t *testing.T) {
		geoc := newTestGeo()
		hist := &fakeHistory{}
		c := newTestCoordinator(t, geoc, hist)

		snap, err := c.Search(ctx, "8.8.8.8")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if snap.Phase != PhaseSuccess {
			t.Errorf("expected success, got %s", snap.Phase)
		}
		if snap.Result == nil || snap.Result.IP != "8.8.8.8" {
			t.Errorf("unexpected result: %+v", snap.Result)
		}
		if len(snap.History) != 1 || snap.History[0].IPAddress != "8.8.8.8" {
			t.Errorf("expected one reconciled entry, got %+v", snap.History)
		}
		if snap.History[0].ID == "" {
			t.Error("reconciled entry must carry a server-assigned id")
		}
		if snap.Input != "" {
			t.Errorf("input should be cleared, got %q", snap.Input)
		}
		if len(snap.Selected) != 0 {
			t.Errorf("selection must be unaffected, got %v", snap.Selected)
		}
	})

	t.Run("lookup_failure_keeps_previous_state", func(t *testing.T) {
		geoc := newTestGeo()
		hist := &fakeHistory{entries: history.Log{{ID: "h-1", IPAddress: "1.1.1.1"}}}
		c := newTestCoordinator(t, geoc, hist)
		if _, err := c.Mount(ctx); err != nil {
			t.Fatalf("Mount failed: %v", err)
		}

		geoc.lookupErr = geo.ErrProviderUnavailable
		snap, err := c.Search(ctx, "8.8.8.8")
		if err != nil {
			t.Fatalf("Search returned error: %v", err)
		}
		if snap.Phase != PhaseLookupFailed {
			t.Errorf("expected lookup_failed, got %s", snap.Phase)
		}
		if snap.Result == nil || snap.Result.IP != "203.0.113.9" {
			t.Errorf("previous result must stay displayed, got %+v", snap.Result)
		}
		if len(snap.History) != 1 {
			t.Errorf("history must stay untouched, got %+v", snap.History)
		}
		if atomic.LoadInt32(&hist.appendCalls) != 0 {
			t.Error("failed lookup must not append history")
		}
	})

	t.Run("append_failure_keeps_result", func(t *testing.T) {
		geoc := newTestGeo()
		hist := &fakeHistory{appendErr: geo.ErrServer}
		c := newTestCoordinator(t, geoc, hist)

		snap, err := c.Search(ctx, "8.8.8.8")
		if err != nil {
			t.Fatalf("Search returned error: %v", err)
		}
		if snap.Result == nil || snap.Result.IP != "8.8.8.8" {
			t.Errorf("new result should survive append failure, got %+v", snap.Result)
		}
		if snap.Err == "" {
			t.Error("append failure should surface a message")
		}
	})

	t.Run("reentrant_search_rejected", func(t *testing.T) {
		geoc := newTestGeo()
		geoc.entered = make(chan struct{})
		geoc.release = make(chan struct{})
		hist := &fakeHistory{}
		c := newTestCoordinator(t, geoc, hist)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = c.Search(ctx, "8.8.8.8")
		}()
		<-geoc.entered

		// 第二次觸發發生在第一次尚未完成時
		if _, err := c.Search(ctx, "1.1.1.1"); !errors.Is(err, ErrBusy) {
			t.Errorf("expected ErrBusy, got %v", err)
		}
		if _, err := c.Clear(ctx); !errors.Is(err, ErrBusy) {
			t.Errorf("expected ErrBusy for clear during search, got %v", err)
		}

		close(geoc.release)
		<-done
	})

	t.Run("logout_supersedes_inflight_search", func(t *testing.T) {
		geoc := newTestGeo()
		geoc.entered = make(chan struct{})
		geoc.release = make(chan struct{})
		hist := &fakeHistory{}
		c := newTestCoordinator(t, geoc, hist)

		type result struct{ snap Snapshot }
		done := make(chan result)
		go func() {
			snap, _ := c.Search(ctx, "8.8.8.8")
			done <- result{snap}
		}()
		<-geoc.entered

		if _, err := c.Logout(ctx); err != nil {
			t.Fatalf("Logout failed: %v", err)
		}
		close(geoc.release)
		res := <-done

		if res.snap.Result != nil {
			t.Errorf("superseded completion must not restore a result, got %+v", res.snap.Result)
		}
		if atomic.LoadInt32(&hist.appendCalls) != 0 {
			t.Error("superseded search must not append history")
		}
	})
}

func TestCoordinator_Clear(t *testing.T) {
	ctx := context.Background()
	geoc := newTestGeo()
	hist := &fakeHistory{entries: history.Log{{ID: "h-1", IPAddress: "8.8.8.8"}}}
	c := newTestCoordinator(t, geoc, hist)
	if _, err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if _, err := c.ToggleSelect("h-1"); err != nil {
		t.Fatalf("ToggleSelect failed: %v", err)
	}
	if _, err := c.Search(ctx, "bogus"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	snap, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if snap.Err != "" || snap.Input != "" {
		t.Errorf("expected input and error reset, got input=%q err=%q", snap.Input, snap.Err)
	}
	if snap.Result == nil || snap.Result.IP != "203.0.113.9" {
		t.Errorf("expected self result restored, got %+v", snap.Result)
	}
	if len(snap.History) != 1 || len(snap.Selected) != 1 {
		t.Errorf("history and selection must survive clear, got %d/%d", len(snap.History), len(snap.Selected))
	}
}

func TestCoordinator_Revisit(t *testing.T) {
	ctx := context.Background()
	geoc := newTestGeo()
	hist := &fakeHistory{entries: history.Log{{ID: "h-1", IPAddress: "1.1.1.1"}}}
	c := newTestCoordinator(t, geoc, hist)
	if _, err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if _, err := c.ToggleSelect("h-1"); err != nil {
		t.Fatalf("ToggleSelect failed: %v", err)
	}

	t.Run("read_only_lookup", func(t *testing.T) {
		snap, err := c.Revisit(ctx, "h-1")
		if err != nil {
			t.Fatalf("Revisit failed: %v", err)
		}
		if snap.Result == nil || snap.Result.IP != "1.1.1.1" {
			t.Errorf("unexpected result: %+v", snap.Result)
		}
		if atomic.LoadInt32(&hist.appendCalls) != 0 {
			t.Error("revisit must not append a new entry")
		}
		if len(snap.Selected) != 1 {
			t.Errorf("revisit must not touch selection, got %v", snap.Selected)
		}
	})

	t.Run("unknown_id", func(t *testing.T) {
		if _, err := c.Revisit(ctx, "missing"); !errors.Is(err, ErrUnknownEntry) {
			t.Errorf("expected ErrUnknownEntry, got %v", err)
		}
	})
}

func TestCoordinator_Selection(t *testing.T) {
	ctx := context.Background()
	geoc := newTestGeo()
	hist := &fakeHistory{entries: history.Log{
		{ID: "h-1", IPAddress: "8.8.8.8"},
		{ID: "h-2", IPAddress: "1.1.1.1"},
	}}
	c := newTestCoordinator(t, geoc, hist)
	if _, err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	t.Run("toggle", func(t *testing.T) {
		snap, err := c.ToggleSelect("h-1")
		if err != nil {
			t.Fatalf("ToggleSelect failed: %v", err)
		}
		if len(snap.Selected) != 1 || snap.Selected[0] != "h-1" {
			t.Errorf("unexpected selection: %v", snap.Selected)
		}
		snap, _ = c.ToggleSelect("h-1")
		if len(snap.Selected) != 0 {
			t.Errorf("expected deselected, got %v", snap.Selected)
		}
	})

	t.Run("toggle_unknown_id", func(t *testing.T) {
		if _, err := c.ToggleSelect("nope"); !errors.Is(err, ErrUnknownEntry) {
			t.Errorf("expected ErrUnknownEntry, got %v", err)
		}
	})

	t.Run("refresh_prunes_stale_selection", func(t *testing.T) {
		if _, err := c.ToggleSelect("h-1"); err != nil {
			t.Fatalf("ToggleSelect failed: %v", err)
		}
		if _, err := c.ToggleSelect("h-2"); err != nil {
			t.Fatalf("ToggleSelect failed: %v", err)
		}
		// 伺服器端已有人刪除 h-2
		hist.mu.Lock()
		hist.entries = hist.entries[:1]
		hist.mu.Unlock()

		snap, err := c.Mount(ctx)
		if err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		for _, id := range snap.Selected {
			if !snap.History.ContainsID(id) {
				t.Errorf("selection contains stale id %s", id)
			}
		}
		if len(snap.Selected) != 1 || snap.Selected[0] != "h-1" {
			t.Errorf("expected only h-1 selected, got %v", snap.Selected)
		}
	})
}

func TestCoordinator_DeleteSelected(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, hist *fakeHistory) *Coordinator {
		t.Helper()
		c := newTestCoordinator(t, newTestGeo(), hist)
		if _, err := c.Mount(ctx); err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		return c
	}

	t.Run("empty_selection_is_noop", func(t *testing.T) {
		hist := &fakeHistory{entries: history.Log{{ID: "h-1", IPAddress: "8.8.8.8"}}}
		c := setup(t, hist)

		snap, err := c.DeleteSelected(ctx)
		if err != nil {
			t.Fatalf("DeleteSelected failed: %v", err)
		}
		if len(snap.History) != 1 {
			t.Errorf("noop delete must not change history, got %+v", snap.History)
		}
	})

	t.Run("success_clears_selection_and_reconciles", func(t *testing.T) {
		hist := &fakeHistory{entries: history.Log{
			{ID: "h-1", IPAddress: "8.8.8.8"},
			{ID: "h-2", IPAddress: "1.1.1.1"},
			{ID: "h-3", IPAddress: "9.9.9.9"},
		}}
		c := setup(t, hist)
		if _, err := c.ToggleSelect("h-1"); err != nil {
			t.Fatal(err)
		}
		if _, err := c.ToggleSelect("h-3"); err != nil {
			t.Fatal(err)
		}

		snap, err := c.DeleteSelected(ctx)
		if err != nil {
			t.Fatalf("DeleteSelected failed: %v", err)
		}
		if len(snap.Selected) != 0 {
			t.Errorf("selection should be cleared, got %v", snap.Selected)
		}
		if len(snap.History) != 1 || snap.History[0].ID != "h-2" {
			t.Errorf("expected only h-2 left, got %+v", snap.History)
		}
	})

	t.Run("failure_leaves_selection_and_log", func(t *testing.T) {
		hist := &fakeHistory{
			entries:   history.Log{{ID: "h-1", IPAddress: "8.8.8.8"}},
			deleteErr: geo.ErrNetwork,
		}
		c := setup(t, hist)
		if _, err := c.ToggleSelect("h-1"); err != nil {
			t.Fatal(err)
		}

		snap, err := c.DeleteSelected(ctx)
		if err != nil {
			t.Fatalf("DeleteSelected returned error: %v", err)
		}
		if len(snap.Selected) != 1 {
			t.Errorf("selection must survive failed delete, got %v", snap.Selected)
		}
		if len(snap.History) != 1 {
			t.Errorf("history must survive failed delete, got %+v", snap.History)
		}
		if snap.Err == "" {
			t.Error("expected failure message")
		}
	})

	t.Run("unauthenticated_forces_logout", func(t *testing.T) {
		hist := &fakeHistory{
			entries:   history.Log{{ID: "h-1", IPAddress: "8.8.8.8"}},
			deleteErr: geo.ErrUnauthenticated,
		}
		c := setup(t, hist)
		if _, err := c.ToggleSelect("h-1"); err != nil {
			t.Fatal(err)
		}

		snap, err := c.DeleteSelected(ctx)
		if !errors.Is(err, geo.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
		if snap.Authenticated {
			t.Error("expected forced logout")
		}
	})
}

func TestCoordinator_Logout(t *testing.T) {
	ctx := context.Background()
	geoc := newTestGeo()
	hist := &fakeHistory{entries: history.Log{{ID: "h-1", IPAddress: "8.8.8.8"}}}
	sessions := memory.NewSessionStore()
	if err := sessions.Set(ctx, "tok-test"); err != nil {
		t.Fatal(err)
	}
	c := New(geoc, hist, sessions)
	if _, err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if _, err := c.ToggleSelect("h-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Search(ctx, "not-an-ip"); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Logout(ctx)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if snap.Result != nil || len(snap.History) != 0 || len(snap.Selected) != 0 || snap.Err != "" || snap.Input != "" {
		t.Errorf("no field may survive logout, got %+v", snap)
	}
	if snap.Authenticated {
		t.Error("expected unauthenticated snapshot")
	}
	if _, err := sessions.Get(ctx); err == nil {
		t.Error("session must be cleared on logout")
	}
	if snap.Center != geo.DefaultCenter {
		t.Errorf("expected default center after logout, got %+v", snap.Center)
	}
}
