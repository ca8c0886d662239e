package cli

import (
	"fmt"
	"io"

	"github.com/khing2004/ip-geo-web/internal/application/tracker"
	"github.com/khing2004/ip-geo-web/internal/domain/geo"
)

// MapView 為地圖表層的消費端：只在導出的中心座標改變時重新置中，
// 縮放策略不在此處理。
type MapView struct {
	center      geo.Coordinate
	initialized bool
}

// Recenter 套用新的快照；回傳是否發生重新置中。
func (m *MapView) Recenter(snap tracker.Snapshot) bool {
	if m.initialized && snap.Center == m.center {
		return false
	}
	m.center = snap.Center
	m.initialized = true
	return true
}

// Center 回傳目前地圖中心。
func (m *MapView) Center() geo.Coordinate {
	if !m.initialized {
		return geo.DefaultCenter
	}
	return m.center
}

// Renderer 將協調器快照輸出為文字畫面。
type Renderer struct {
	out io.Writer
	m   MapView
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Render 輸出結果面板、錯誤列、history 列表與地圖狀態列。
func (r *Renderer) Render(snap tracker.Snapshot) {
	if snap.Err != "" {
		fmt.Fprintf(r.out, "! %s\n", snap.Err)
	}

	if snap.Result != nil {
		res := snap.Result
		fmt.Fprintln(r.out, "Geolocation Info")
		fmt.Fprintf(r.out, "  IP:       %s\n", res.IP)
		fmt.Fprintf(r.out, "  City:     %s\n", res.City)
		fmt.Fprintf(r.out, "  Region:   %s\n", res.Region)
		fmt.Fprintf(r.out, "  Country:  %s\n", res.Country)
		fmt.Fprintf(r.out, "  Location: %s\n", res.Loc)
		fmt.Fprintf(r.out, "  Timezone: %s\n", res.Timezone)
		fmt.Fprintf(r.out, "  ISP:      %s\n", res.Org)
	}

	if recentered := r.m.Recenter(snap); recentered {
		c := r.m.Center()
		fmt.Fprintf(r.out, "map: recentered to (%.4f, %.4f) marker=%s %s %s\n",
			c.Lat, c.Lng, snap.Marker.IP, snap.Marker.City, snap.Marker.Country)
	}

	if len(snap.History) > 0 {
		fmt.Fprintln(r.out, "Search History")
		selected := make(map[string]struct{}, len(snap.Selected))
		for _, id := range snap.Selected {
			selected[id] = struct{}{}
		}
		for i, e := range snap.History {
			mark := " "
			if _, ok := selected[e.ID]; ok {
				mark = "x"
			}
			fmt.Fprintf(r.out, "  %2d [%s] %-15s %s, %s (%s)\n", i+1, mark, e.IPAddress, e.City, e.Country, e.ID)
		}
	}
}
