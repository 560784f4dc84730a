// Package projection builds immutable, render-ready views of a query's results.
//
// A View captures the rows and filter pills for one (records, filter) pair.
// Views are rebuilt after every change and swapped into the UI model; nothing
// in a View points back into the result store.
package projection

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/daviddao/dnsprop_viewer/internal/protocol"
	"github.com/daviddao/dnsprop_viewer/internal/results"
)

// AllHue is the fixed accent of the synthetic "All" pill.
const AllHue = 220

// Row is one record, ready to render.
type Row struct {
	Code     string // short badge: flag, country prefix, or WW
	Title    string
	ServerIP string
	OK       bool
	Latency  string
	TTL      string
	Values   []string
	Category string
}

// Pill is one filter choice.
type Pill struct {
	Label    string
	Badge    string
	Category string // empty for the All pill
	Count    int
	Color    Color
	Active   bool
	All      bool
}

// Color is a category's display color.
type Color struct {
	Hue int
	CSS string // hsl(H 75% 58%)
	Hex string
}

// View is an immutable, self-contained projection of the result store.
type View struct {
	Rows  []Row
	Pills []Pill

	// Counts.
	Total   int
	Visible int

	// Timestamp of projection.
	BuiltAt time.Time
}

// Project filters records to the active category, preserving arrival
// order, and derives the pill bar from the full record set.
func Project(records []protocol.Record, filter results.Filter) *View {
	v := &View{
		Total:   len(records),
		BuiltAt: time.Now(),
	}

	for _, r := range records {
		if !filter.Matches(r.Category()) {
			continue
		}
		v.Rows = append(v.Rows, rowFor(r))
	}
	v.Visible = len(v.Rows)

	if len(records) == 0 {
		return v
	}

	v.Pills = append(v.Pills, Pill{
		Label:  "All",
		Count:  len(records),
		Color:  colorForHue(AllHue),
		Active: filter.IsAll(),
		All:    true,
	})
	active, _ := filter.Active()
	for _, c := range results.Count(records) {
		v.Pills = append(v.Pills, Pill{
			Label:    c.Category,
			Badge:    c.Badge,
			Category: c.Category,
			Count:    c.Count,
			Color:    CategoryColor(c.Category),
			Active:   !filter.IsAll() && active == c.Category,
		})
	}
	return v
}

func rowFor(r protocol.Record) Row {
	row := Row{
		Code:     badgeCode(r),
		Title:    title(r),
		ServerIP: r.ServerIP,
		OK:       bool(r.Status),
		Latency:  "-",
		TTL:      "-",
		Values:   r.Values(),
		Category: r.Category(),
	}
	if r.LatencyMS != nil {
		row.Latency = r.LatencyMS.String() + " ms"
	}
	if r.TTL != nil {
		row.TTL = r.TTL.String()
	}
	return row
}

func badgeCode(r protocol.Record) string {
	if strings.TrimSpace(r.Flag) != "" {
		return r.Flag
	}
	if r.Country != "" {
		runes := []rune(r.Country)
		if len(runes) > 2 {
			runes = runes[:2]
		}
		return strings.ToUpper(string(runes))
	}
	return "WW"
}

func title(r protocol.Record) string {
	name := r.Name
	if name == "" {
		name = "Resolver"
	}
	if r.Country == "" {
		return name
	}
	return name + " • " + r.Country
}

// CategoryColor hashes the category name into a stable hue, so a category
// keeps its color within and across sessions.
func CategoryColor(category string) Color {
	if category == "" {
		category = protocol.OtherCategory
	}
	var h uint32
	for _, u := range utf16.Encode([]rune(category)) {
		h = h*31 + uint32(u)
	}
	return colorForHue(int(h % 360))
}

func colorForHue(hue int) Color {
	return Color{
		Hue: hue,
		CSS: fmt.Sprintf("hsl(%d 75%% 58%%)", hue),
		Hex: colorful.Hsl(float64(hue), 0.75, 0.58).Hex(),
	}
}
