// Package session drives one propagation query at a time: it accepts
// submissions, folds transport events into session state, and projects
// the accumulated results for display.
//
// A Controller is not safe for concurrent use. Callers feed it from a
// single goroutine (the TUI update loop or the headless loop), which keeps
// append-in-arrival-order and reset-before-send structural.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/daviddao/dnsprop_viewer/internal/conn"
	"github.com/daviddao/dnsprop_viewer/internal/logging"
	"github.com/daviddao/dnsprop_viewer/internal/projection"
	"github.com/daviddao/dnsprop_viewer/internal/protocol"
	"github.com/daviddao/dnsprop_viewer/internal/query"
	"github.com/daviddao/dnsprop_viewer/internal/results"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrBusy         = errors.New("a query is already running")
)

// QueryState is the lifecycle of the active query.
type QueryState int

const (
	Idle QueryState = iota
	Running
	Completed
	LimitReached
	Failed
)

func (s QueryState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case LimitReached:
		return "limit reached"
	case Failed:
		return "failed"
	}
	return "?"
}

// Session is a copy of the controller's state.
type Session struct {
	Conn   conn.State
	Query  QueryState
	Active query.Request // zero when no query was submitted

	// Interrupted is set when the connection dropped while Running. The
	// query stays Running, but a new submission is allowed once reconnected.
	Interrupted bool

	RunID      string // log correlation only; never sent
	StartedAt  time.Time
	FinishedAt time.Time
}

// NoticeKind is the severity of a banner.
type NoticeKind int

const (
	NoticeNone NoticeKind = iota
	NoticeOK
	NoticeWarn
	NoticeBad
)

// Notice is the banner shown above the results.
type Notice struct {
	Kind  NoticeKind
	Title string
	Text  string
	Sub   string
}

// Sender delivers an outbound message. *conn.Manager implements it.
type Sender interface {
	Send(v any) error
}

// Controller owns the session, the result store and the filter.
type Controller struct {
	sender Sender
	log    *log.Logger
	now    func() time.Time

	session Session
	store   results.Store
	filter  results.Filter
	notice  Notice
	counts  map[protocol.Kind]int
}

// New creates an idle, disconnected controller.
func New(sender Sender, logger *log.Logger) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		sender: sender,
		log:    logger,
		now:    time.Now,
		counts: make(map[protocol.Kind]int),
	}
}

// Session returns a copy of the current session state.
func (c *Controller) Session() Session { return c.session }

// Notice returns the current banner.
func (c *Controller) Notice() Notice { return c.notice }

// CanSubmit reports whether Submit would be accepted.
func (c *Controller) CanSubmit() bool {
	if c.session.Conn != conn.Connected {
		return false
	}
	return c.session.Query != Running || c.session.Interrupted
}

// Submit validates the input and, if accepted, resets the results and
// sends the query. Rejections surface as a notice and change nothing else.
func (c *Controller) Submit(domain, recordType string) (query.Request, error) {
	if c.session.Conn != conn.Connected {
		c.notice = Notice{Kind: NoticeBad, Title: "Offline", Text: "The service is not reachable. Please try again."}
		return query.Request{}, ErrNotConnected
	}
	if !c.CanSubmit() {
		return query.Request{}, ErrBusy
	}

	req, err := query.Validate(domain, recordType)
	if err != nil {
		title, text := query.Describe(err)
		c.notice = Notice{Kind: NoticeBad, Title: title, Text: text}
		return query.Request{}, err
	}

	c.store.Reset()
	c.filter.Clear()
	clear(c.counts)
	c.session.Active = req
	c.session.Query = Running
	c.session.Interrupted = false
	c.session.RunID = uuid.NewString()
	c.session.StartedAt = c.now()
	c.session.FinishedAt = time.Time{}
	c.notice = Notice{Kind: NoticeWarn, Title: "Running", Text: req.String(), Sub: "Results will appear below as they arrive."}

	c.log.Info("query submitted", "run", c.session.RunID, "name", req.Name, "type", req.Type)
	if err := c.sender.Send(protocol.NewRequest(req)); err != nil {
		c.log.Error("query send failed", "run", c.session.RunID, "err", err)
		c.finish(Failed)
		c.notice = Notice{Kind: NoticeBad, Title: "Offline", Text: "The query could not be sent. Please try again."}
		return req, fmt.Errorf("send query: %w", err)
	}
	return req, nil
}

// Handle folds one transport event into the session. It is the only path
// by which inbound data changes state.
func (c *Controller) Handle(ev conn.Event) {
	switch ev.Kind {
	case conn.EventState:
		c.setConn(ev.State)
	case conn.EventFrame:
		c.handleFrame(ev.Data)
	}
}

func (c *Controller) setConn(s conn.State) {
	prev := c.session.Conn
	c.session.Conn = s
	if prev == conn.Connected && s != conn.Connected && c.session.Query == Running {
		c.session.Interrupted = true
		c.log.Warn("connection lost mid-query", "run", c.session.RunID, "records", c.store.Len())
	}
}

func (c *Controller) handleFrame(data []byte) {
	msg := protocol.Classify(data)
	c.counts[msg.Kind]++

	switch msg.Kind {
	case protocol.KindResult:
		// Trailing records after a terminal event are still kept.
		c.store.Append(msg.Record)

	case protocol.KindLimit:
		c.finish(LimitReached)
		c.notice = Notice{Kind: NoticeWarn, Title: "Limit reached", Text: protocol.LimitReason(msg.Text)}
		c.log.Warn("rate limited", "run", c.session.RunID, "code", msg.Text)

	case protocol.KindDone:
		c.finish(Completed)
		c.notice = Notice{Kind: NoticeOK, Title: "Completed", Text: "The query has finished."}
		c.log.Info("query completed", "run", c.session.RunID, "records", c.store.Len())

	case protocol.KindDiagnostic:
		c.notice = Notice{Kind: NoticeBad, Title: "Error", Text: msg.Text}
		c.log.Warn("service diagnostic", "run", c.session.RunID, "text", msg.Text)

	default:
		c.log.Debug("dropped frame", "size", len(data))
	}
}

// finish ends a Running query. Terminal events outside Running only
// update the notice.
func (c *Controller) finish(s QueryState) {
	if c.session.Query != Running {
		return
	}
	c.session.Query = s
	c.session.Interrupted = false
	c.session.FinishedAt = c.now()
}

// ToggleFilter selects category, or returns to all if it is already selected.
func (c *Controller) ToggleFilter(category string) { c.filter.Toggle(category) }

// ShowAll clears the category filter.
func (c *Controller) ShowAll() { c.filter.Clear() }

// Filter returns the active filter.
func (c *Controller) Filter() results.Filter { return c.filter }

// Records returns the accumulated records in arrival order.
func (c *Controller) Records() []protocol.Record { return c.store.Records() }

// CategoryCounts returns the per-category counts in display order.
func (c *Controller) CategoryCounts() []results.CategoryCount { return c.store.CategoryCounts() }

// View projects the current records through the filter.
func (c *Controller) View() *projection.View {
	return projection.Project(c.store.Records(), c.filter)
}

// FrameCount returns how many frames of kind k arrived for this query.
func (c *Controller) FrameCount(k protocol.Kind) int { return c.counts[k] }
