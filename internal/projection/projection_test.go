package projection

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/daviddao/dnsprop_viewer/internal/protocol"
	"github.com/daviddao/dnsprop_viewer/internal/results"
)

// testRecords returns a small mixed record set in arrival order, decoded
// the way frames arrive from the service.
func testRecords(t *testing.T) []protocol.Record {
	t.Helper()
	const data = `[
		{"name":"Google","flag":"US","country":"United States","server_ip":"8.8.8.8","status":true,"latency_ms":12,"ttl":300,"result":"93.184.216.34"},
		{"name":"Quad9","country":"Germany","server_ip":"9.9.9.9","status":false},
		{"name":"Cloudflare","flag":"US","country":"United States","status":true,"results":["a","b"]},
		{"server_ip":"10.0.0.1"}
	]`
	var recs []protocol.Record
	if err := json.Unmarshal([]byte(data), &recs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return recs
}

func TestProjectAllRows(t *testing.T) {
	v := Project(testRecords(t), results.Filter{})

	if v.Total != 4 || v.Visible != 4 {
		t.Errorf("Total/Visible = %d/%d, want 4/4", v.Total, v.Visible)
	}
	names := make([]string, len(v.Rows))
	for i, r := range v.Rows {
		names[i] = r.Title
	}
	want := []string{"Google • United States", "Quad9 • Germany", "Cloudflare • United States", "Resolver"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("row titles = %v, want %v", names, want)
	}
}

func TestProjectRowFields(t *testing.T) {
	v := Project(testRecords(t), results.Filter{})

	r := v.Rows[0]
	if r.Code != "US" || r.ServerIP != "8.8.8.8" || !r.OK {
		t.Errorf("unexpected row 0: %+v", r)
	}
	if r.Latency != "12 ms" || r.TTL != "300" {
		t.Errorf("latency/ttl = %q/%q, want '12 ms'/'300'", r.Latency, r.TTL)
	}
	if !reflect.DeepEqual(r.Values, []string{"93.184.216.34"}) {
		t.Errorf("values = %v", r.Values)
	}

	r = v.Rows[1]
	if r.Code != "GE" {
		t.Errorf("code without flag should come from country, got %q", r.Code)
	}
	if r.OK || r.Latency != "-" || r.TTL != "-" || r.Values != nil {
		t.Errorf("unexpected row 1: %+v", r)
	}

	if !reflect.DeepEqual(v.Rows[2].Values, []string{"a", "b"}) {
		t.Errorf("list values = %v", v.Rows[2].Values)
	}

	r = v.Rows[3]
	if r.Code != "WW" || r.Category != protocol.OtherCategory {
		t.Errorf("record without country: code=%q category=%q", r.Code, r.Category)
	}
}

func TestProjectFiltered(t *testing.T) {
	var f results.Filter
	f.Toggle("United States")

	v := Project(testRecords(t), f)
	if v.Visible != 2 || v.Total != 4 {
		t.Fatalf("Visible/Total = %d/%d, want 2/4", v.Visible, v.Total)
	}
	if v.Rows[0].Title != "Google • United States" || v.Rows[1].Title != "Cloudflare • United States" {
		t.Errorf("filtered rows out of arrival order: %+v", v.Rows)
	}

	for _, p := range v.Pills {
		wantActive := p.Category == "United States"
		if p.Active != wantActive {
			t.Errorf("pill %q Active = %v, want %v", p.Label, p.Active, wantActive)
		}
	}
}

func TestProjectFilterOther(t *testing.T) {
	var f results.Filter
	f.Toggle(protocol.OtherCategory)

	v := Project(testRecords(t), f)
	if v.Visible != 1 || v.Rows[0].ServerIP != "10.0.0.1" {
		t.Errorf("Other filter rows = %+v", v.Rows)
	}
}

func TestProjectPills(t *testing.T) {
	v := Project(testRecords(t), results.Filter{})

	if len(v.Pills) != 4 {
		t.Fatalf("expected All + 3 category pills, got %d", len(v.Pills))
	}
	all := v.Pills[0]
	if !all.All || all.Label != "All" || all.Count != 4 || !all.Active || all.Color.Hue != AllHue {
		t.Errorf("unexpected All pill: %+v", all)
	}

	var labels []string
	for _, p := range v.Pills[1:] {
		labels = append(labels, p.Label)
		if p.Active {
			t.Errorf("pill %q should be inactive when filter is all", p.Label)
		}
	}
	want := []string{"United States", "Germany", protocol.OtherCategory}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("pill order = %v, want %v", labels, want)
	}
	if v.Pills[1].Badge != "US" || v.Pills[2].Badge != results.DefaultBadge {
		t.Errorf("badges = %q, %q", v.Pills[1].Badge, v.Pills[2].Badge)
	}
}

func TestProjectEmpty(t *testing.T) {
	v := Project(nil, results.Filter{})
	if len(v.Rows) != 0 || len(v.Pills) != 0 || v.Total != 0 {
		t.Errorf("empty projection should have no rows or pills: %+v", v)
	}
	if v.BuiltAt.IsZero() {
		t.Error("BuiltAt should be set")
	}
}

func TestProjectDoesNotAggregateDuplicates(t *testing.T) {
	r := protocol.Record{Name: "dup", Country: "FR"}
	v := Project([]protocol.Record{r, r, r}, results.Filter{})
	if len(v.Rows) != 3 {
		t.Errorf("expected one row per arrival, got %d", len(v.Rows))
	}
	if v.Pills[1].Count != 3 {
		t.Errorf("FR count = %d, want 3", v.Pills[1].Count)
	}
}

func TestCategoryColor(t *testing.T) {
	tests := []struct {
		category string
		hue      int
	}{
		{"A", 65},
		{"US", 198},
		{"Other", 184},
		{"", 184},
		{"Germany", 3},
		{"United States", 199},
		{"日本", 207},
		{"🇯🇵", 308},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			c := CategoryColor(tt.category)
			if c.Hue != tt.hue {
				t.Errorf("CategoryColor(%q).Hue = %d, want %d", tt.category, c.Hue, tt.hue)
			}
			if !strings.HasPrefix(c.CSS, "hsl(") || !strings.HasSuffix(c.CSS, " 75% 58%)") {
				t.Errorf("CSS = %q", c.CSS)
			}
			if len(c.Hex) != 7 || c.Hex[0] != '#' {
				t.Errorf("Hex = %q", c.Hex)
			}
		})
	}
}

func TestCategoryColorStable(t *testing.T) {
	if CategoryColor("Brazil") != CategoryColor("Brazil") {
		t.Error("same category must map to the same color")
	}
}
