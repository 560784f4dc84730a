package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/daviddao/dnsprop_viewer/internal/conn"
	"github.com/daviddao/dnsprop_viewer/internal/protocol"
	"github.com/daviddao/dnsprop_viewer/internal/query"
)

// fakeSender records outbound messages and can be told to fail.
type fakeSender struct {
	sent []any
	err  error
}

func (f *fakeSender) Send(v any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v)
	return nil
}

func connected(t *testing.T) (*Controller, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	c := New(s, nil)
	c.Handle(conn.StateEvent(conn.Connecting))
	c.Handle(conn.StateEvent(conn.Connected))
	return c, s
}

func resultFrame(name, country string) conn.Event {
	return conn.FrameEvent([]byte(fmt.Sprintf(
		`{"type":"resolver_result","data":{"name":%q,"country":%q,"status":true}}`, name, country)))
}

func textFrame(s string) conn.Event {
	return conn.FrameEvent([]byte(s))
}

func mustSubmit(t *testing.T, c *Controller) {
	t.Helper()
	if _, err := c.Submit("example.com", "A"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestQueryStateString(t *testing.T) {
	tests := map[QueryState]string{
		Idle:            "idle",
		Running:         "running",
		Completed:       "completed",
		LimitReached:    "limit reached",
		Failed:          "failed",
		QueryState(100): "?",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("QueryState(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestNewControllerIsIdleAndOffline(t *testing.T) {
	c := New(&fakeSender{}, nil)
	s := c.Session()
	if s.Conn != conn.Disconnected || s.Query != Idle {
		t.Errorf("new session = %+v", s)
	}
	if c.CanSubmit() {
		t.Error("CanSubmit should be false while disconnected")
	}
}

func TestSubmitWhileDisconnected(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, nil)

	_, err := c.Submit("example.com", "A")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Submit offline = %v, want ErrNotConnected", err)
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should be sent while offline")
	}
	if n := c.Notice(); n.Kind != NoticeBad || n.Title != "Offline" {
		t.Errorf("notice = %+v", n)
	}
	if c.Session().Query != Idle {
		t.Errorf("Query = %v, want idle", c.Session().Query)
	}
}

func TestSubmitSendsNormalizedRequest(t *testing.T) {
	c, sender := connected(t)

	req, err := c.Submit(" https://Example.com./ ", "MX")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req != (query.Request{Name: "Example.com", Type: "MX"}) {
		t.Errorf("req = %+v", req)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if got := sender.sent[0]; got != (protocol.Request{QueryName: "Example.com", QueryType: "MX"}) {
		t.Errorf("sent %+v", got)
	}

	s := c.Session()
	if s.Query != Running || s.Active != req || s.RunID == "" || s.StartedAt.IsZero() {
		t.Errorf("session after submit = %+v", s)
	}
	if c.CanSubmit() {
		t.Error("CanSubmit should be false while running")
	}
	if n := c.Notice(); n.Title != "Running" || n.Text != "Example.com / MX" {
		t.Errorf("notice = %+v", n)
	}
}

func TestSubmitValidationFailureChangesNothing(t *testing.T) {
	c, sender := connected(t)
	mustSubmit(t, c)
	c.Handle(resultFrame("r1", "US"))
	c.Handle(textFrame("done"))
	c.ToggleFilter("US")
	before := c.Session()

	tests := []struct {
		domain, rtype string
		err           error
		title         string
	}{
		{"", "A", query.ErrEmptyDomain, "Missing input"},
		{"example.com", "", query.ErrMissingRecordType, "Missing input"},
		{strings.Repeat("a", 254), "A", query.ErrDomainTooLong, "Invalid domain"},
	}
	for _, tt := range tests {
		_, err := c.Submit(tt.domain, tt.rtype)
		if !errors.Is(err, tt.err) {
			t.Errorf("Submit(%q, %q) = %v, want %v", tt.domain, tt.rtype, err, tt.err)
		}
		if n := c.Notice(); n.Kind != NoticeBad || n.Title != tt.title {
			t.Errorf("notice = %+v", n)
		}
	}

	if len(sender.sent) != 1 {
		t.Errorf("invalid submissions must not send; sent %d", len(sender.sent))
	}
	if c.Session() != before {
		t.Errorf("session changed: %+v -> %+v", before, c.Session())
	}
	if len(c.Records()) != 1 {
		t.Errorf("records cleared by invalid submit")
	}
	if cat, ok := c.Filter().Active(); !ok || cat != "US" {
		t.Error("filter reset by invalid submit")
	}
}

func TestSubmitWhileRunningIsRefused(t *testing.T) {
	c, sender := connected(t)
	mustSubmit(t, c)
	c.Handle(resultFrame("r1", "US"))

	if _, err := c.Submit("other.com", "A"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Submit = %v, want ErrBusy", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(sender.sent))
	}
	if len(c.Records()) != 1 || c.Session().Active.Name != "example.com" {
		t.Error("refused submit must not reset the running query")
	}
}

func TestSubmitResetsStoreAndFilter(t *testing.T) {
	c, _ := connected(t)
	mustSubmit(t, c)
	c.Handle(resultFrame("r1", "US"))
	c.Handle(resultFrame("r2", "DE"))
	c.Handle(textFrame("error: resolver timeout"))
	c.Handle(textFrame("done"))
	c.ToggleFilter("DE")

	mustSubmit(t, c)

	if n := len(c.Records()); n != 0 {
		t.Errorf("records after resubmit = %d, want 0", n)
	}
	if !c.Filter().IsAll() {
		t.Error("filter should reset to all")
	}
	if c.FrameCount(protocol.KindResult) != 0 || c.FrameCount(protocol.KindDiagnostic) != 0 {
		t.Error("frame counts should reset per query")
	}
	if c.Session().Query != Running {
		t.Errorf("Query = %v, want running", c.Session().Query)
	}
}

func TestResultsThenDone(t *testing.T) {
	c, _ := connected(t)
	mustSubmit(t, c)

	countries := []string{"US", "DE", "US", "", "JP", "US"}
	for i, country := range countries {
		c.Handle(resultFrame(fmt.Sprintf("r%d", i), country))
	}
	c.Handle(textFrame("DONE"))

	s := c.Session()
	if s.Query != Completed || s.FinishedAt.IsZero() {
		t.Errorf("session = %+v, want completed", s)
	}
	if !c.CanSubmit() {
		t.Error("CanSubmit should be true after done")
	}

	recs := c.Records()
	if len(recs) != len(countries) {
		t.Fatalf("records = %d, want %d", len(recs), len(countries))
	}
	for i, r := range recs {
		if r.Name != fmt.Sprintf("r%d", i) {
			t.Errorf("record %d = %q, out of arrival order", i, r.Name)
		}
	}

	sum := 0
	for _, cc := range c.CategoryCounts() {
		sum += cc.Count
	}
	if sum != len(countries) {
		t.Errorf("category counts sum to %d, want %d", sum, len(countries))
	}
	if n := c.Notice(); n.Kind != NoticeOK || n.Title != "Completed" {
		t.Errorf("notice = %+v", n)
	}
}

func TestLimitWithoutResults(t *testing.T) {
	c, _ := connected(t)
	mustSubmit(t, c)

	c.Handle(textFrame(`{"text":"hour_limit"}`))

	if q := c.Session().Query; q != LimitReached {
		t.Errorf("Query = %v, want limit reached", q)
	}
	if !c.CanSubmit() {
		t.Error("CanSubmit should be true after a limit")
	}
	n := c.Notice()
	if n.Kind != NoticeWarn || n.Text != "Hourly limit reached. Please try again later." {
		t.Errorf("notice = %+v", n)
	}
}

func TestDiagnosticDoesNotChangeState(t *testing.T) {
	c, _ := connected(t)
	mustSubmit(t, c)

	c.Handle(textFrame(`{"message":"Resolver 8.8.8.8 failed"}`))

	if c.Session().Query != Running {
		t.Errorf("Query = %v, want running", c.Session().Query)
	}
	n := c.Notice()
	if n.Kind != NoticeBad || n.Text != "Resolver 8.8.8.8 failed" {
		t.Errorf("notice = %+v", n)
	}
	if c.FrameCount(protocol.KindDiagnostic) != 1 {
		t.Error("diagnostic should be counted")
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	c, _ := connected(t)
	mustSubmit(t, c)
	c.Handle(resultFrame("r1", "US"))
	before := c.Session()
	notice := c.Notice()

	for _, f := range []string{
		`{"type":"resolver_result","data":{`,
		`{"type":"resolver_result","data":{"status":true,"name":[1]}}`,
		`{"unknown":true}`,
		"",
		"\x00\x01\x02",
	} {
		c.Handle(textFrame(f))
	}

	if c.Session() != before {
		t.Errorf("session changed on noise: %+v", c.Session())
	}
	if c.Notice() != notice {
		t.Errorf("notice changed on noise: %+v", c.Notice())
	}
	if len(c.Records()) != 1 {
		t.Errorf("records = %d, want 1", len(c.Records()))
	}
	if c.FrameCount(protocol.KindDrop) != 5 {
		t.Errorf("drops = %d, want 5", c.FrameCount(protocol.KindDrop))
	}
}

func TestTrailingResultsAfterDoneAreKept(t *testing.T) {
	c, _ := connected(t)
	mustSubmit(t, c)
	c.Handle(textFrame("done"))
	c.Handle(resultFrame("late", "US"))

	if len(c.Records()) != 1 {
		t.Errorf("trailing record should be appended")
	}
	if c.Session().Query != Completed {
		t.Errorf("Query = %v, want completed", c.Session().Query)
	}
}

func TestTerminalEventWhileIdleKeepsState(t *testing.T) {
	c, _ := connected(t)
	c.Handle(textFrame("minute_limit"))

	if c.Session().Query != Idle {
		t.Errorf("Query = %v, want idle", c.Session().Query)
	}
	if n := c.Notice(); n.Title != "Limit reached" {
		t.Errorf("notice should still surface the limit, got %+v", n)
	}
}

func TestSendFailureMarksFailed(t *testing.T) {
	c, sender := connected(t)
	sender.err = conn.ErrNotReady

	_, err := c.Submit("example.com", "A")
	if !errors.Is(err, conn.ErrNotReady) {
		t.Fatalf("Submit = %v, want wrapped ErrNotReady", err)
	}
	if q := c.Session().Query; q != Failed {
		t.Errorf("Query = %v, want failed", q)
	}
	if !c.CanSubmit() {
		t.Error("a failed send should allow retrying")
	}
}

func TestReconnectWhileRunning(t *testing.T) {
	c, sender := connected(t)
	mustSubmit(t, c)
	c.Handle(resultFrame("r1", "US"))

	c.Handle(conn.StateEvent(conn.Disconnected))
	if c.CanSubmit() {
		t.Error("submission should be disabled while disconnected")
	}
	s := c.Session()
	if s.Query != Running || !s.Interrupted {
		t.Errorf("after disconnect session = %+v, want running+interrupted", s)
	}

	c.Handle(conn.StateEvent(conn.Connecting))
	if c.CanSubmit() {
		t.Error("submission should stay disabled while connecting")
	}

	c.Handle(conn.StateEvent(conn.Connected))
	if !c.CanSubmit() {
		t.Error("submission should be enabled after reconnect")
	}
	if q := c.Session().Query; q != Running {
		t.Errorf("Query = %v, want running (no new submission happened)", q)
	}
	if len(c.Records()) != 1 {
		t.Error("records must survive a reconnect")
	}

	// A fresh submission supersedes the stalled query.
	mustSubmit(t, c)
	if len(sender.sent) != 2 || c.Session().Interrupted {
		t.Errorf("resubmit after reconnect: sent=%d session=%+v", len(sender.sent), c.Session())
	}
}

func TestDoneAfterReconnectClearsInterrupted(t *testing.T) {
	c, _ := connected(t)
	mustSubmit(t, c)
	c.Handle(conn.StateEvent(conn.Disconnected))
	c.Handle(conn.StateEvent(conn.Connected))
	c.Handle(textFrame("done"))

	s := c.Session()
	if s.Query != Completed || s.Interrupted {
		t.Errorf("session = %+v", s)
	}
}

func TestDisconnectWhileIdleIsNotInterrupted(t *testing.T) {
	c, _ := connected(t)
	c.Handle(conn.StateEvent(conn.Disconnected))
	if c.Session().Interrupted {
		t.Error("idle session should not be marked interrupted")
	}
}

func TestFilterToggleAndView(t *testing.T) {
	c, _ := connected(t)
	mustSubmit(t, c)
	c.Handle(resultFrame("r1", "A"))
	c.Handle(resultFrame("r2", "B"))
	c.Handle(resultFrame("r3", "A"))
	c.Handle(resultFrame("r4", "B"))
	c.Handle(resultFrame("r5", "C"))

	v := c.View()
	if v.Visible != 5 || len(v.Pills) != 4 {
		t.Fatalf("unfiltered view: visible=%d pills=%d", v.Visible, len(v.Pills))
	}
	var order []string
	for _, p := range v.Pills[1:] {
		order = append(order, p.Label)
	}
	if strings.Join(order, ",") != "A,B,C" {
		t.Errorf("pill order = %v, want A,B,C", order)
	}

	c.ToggleFilter("B")
	v = c.View()
	if v.Visible != 2 || v.Rows[0].Title != "r2 • B" || v.Rows[1].Title != "r4 • B" {
		t.Errorf("B view rows = %+v", v.Rows)
	}

	c.ToggleFilter("B")
	if !c.Filter().IsAll() {
		t.Error("reselecting B should return to all")
	}

	c.ToggleFilter("A")
	c.ToggleFilter("C")
	if cat, _ := c.Filter().Active(); cat != "C" {
		t.Errorf("A then C should leave C, got %q", cat)
	}

	c.ShowAll()
	if !c.Filter().IsAll() {
		t.Error("ShowAll should clear the filter")
	}
}
