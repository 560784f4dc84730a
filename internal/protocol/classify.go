package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/daviddao/dnsprop_viewer/internal/query"
)

// ResultType is the envelope type carrying a Record.
const ResultType = "resolver_result"

// Rate-limit codes sent by the service as plain text.
const (
	LimitMinute = "minute_limit"
	LimitHour   = "hour_limit"
	LimitDay    = "day_limit"
)

// Request is the outbound query message.
type Request struct {
	QueryName string `json:"query_name"`
	QueryType string `json:"query_type"`
}

// NewRequest converts a validated query into its wire form.
func NewRequest(q query.Request) Request {
	return Request{QueryName: q.Name, QueryType: q.Type}
}

// Kind is the classification of one inbound frame.
type Kind int

const (
	KindDrop Kind = iota
	KindResult
	KindLimit
	KindDone
	KindDiagnostic
)

func (k Kind) String() string {
	switch k {
	case KindDrop:
		return "drop"
	case KindResult:
		return "result"
	case KindLimit:
		return "limit"
	case KindDone:
		return "done"
	case KindDiagnostic:
		return "diagnostic"
	}
	return "?"
}

// Message is a classified inbound frame. Record is set for KindResult;
// Text carries the limit code or diagnostic text.
type Message struct {
	Kind   Kind
	Record Record
	Text   string
}

// Classify decodes one frame. Precedence: result envelope, limit code,
// done, diagnostic keyword, drop. Malformed input always drops.
func Classify(frame []byte) Message {
	text, rec, ok := decode(frame)
	if ok {
		return Message{Kind: KindResult, Record: rec}
	}

	// Limit codes and done must match exactly; surrounding whitespace drops.
	switch {
	case strings.TrimSpace(text) == "":
		return Message{Kind: KindDrop}
	case text == LimitMinute || text == LimitHour || text == LimitDay:
		return Message{Kind: KindLimit, Text: text}
	case strings.EqualFold(text, "done"):
		return Message{Kind: KindDone, Text: text}
	}

	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	if strings.Contains(lower, "error") || strings.Contains(lower, "not") || strings.Contains(lower, "failed") {
		return Message{Kind: KindDiagnostic, Text: text}
	}
	return Message{Kind: KindDrop, Text: text}
}

// decode extracts either a result record or the frame's text payload.
func decode(frame []byte) (text string, rec Record, isResult bool) {
	trimmed := bytes.TrimSpace(frame)
	if !json.Valid(trimmed) {
		return string(frame), Record{}, false
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", Record{}, false
		}
		if stringField(obj, "type") == ResultType {
			data := bytes.TrimSpace(obj["data"])
			if len(data) == 0 || data[0] != '{' {
				return "", Record{}, false
			}
			if err := json.Unmarshal(data, &rec); err != nil {
				return "", Record{}, false
			}
			return "", rec, true
		}
		if t := stringField(obj, "text"); t != "" {
			return t, Record{}, false
		}
		return stringField(obj, "message"), Record{}, false
	case '"':
		var s string
		_ = json.Unmarshal(trimmed, &s)
		return s, Record{}, false
	}
	return string(frame), Record{}, false
}

func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// LimitReason returns the user-facing explanation for a rate-limit code.
func LimitReason(code string) string {
	switch code {
	case LimitMinute:
		return "Too many requests. Please wait a moment and try again."
	case LimitHour:
		return "Hourly limit reached. Please try again later."
	case LimitDay:
		return "Daily limit reached. Please try again tomorrow."
	}
	return "Rate limit reached. Please try again later."
}
