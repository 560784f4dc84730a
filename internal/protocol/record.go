// Package protocol defines the propagation service's wire format and
// classifies inbound frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// OtherCategory groups records that report no country.
const OtherCategory = "Other"

// Record is one resolver's reported outcome for the active query.
type Record struct {
	Name      string   `json:"name,omitempty"`
	Flag      string   `json:"flag,omitempty"`
	Country   string   `json:"country,omitempty"`
	ServerIP  string   `json:"server_ip,omitempty"`
	Status    Truthy   `json:"status"`
	LatencyMS *Scalar  `json:"latency_ms,omitempty"`
	TTL       *Scalar  `json:"ttl,omitempty"`
	Result    *Scalar  `json:"result,omitempty"`
	Results   []Scalar `json:"results,omitempty"`
}

// Category returns the record's grouping key.
func (r Record) Category() string {
	if r.Country == "" {
		return OtherCategory
	}
	return r.Country
}

// Values returns the answer payload. The list form wins when non-empty.
func (r Record) Values() []string {
	if len(r.Results) > 0 {
		out := make([]string, len(r.Results))
		for i, v := range r.Results {
			out[i] = v.String()
		}
		return out
	}
	if r.Result != nil {
		return []string{r.Result.String()}
	}
	return nil
}

// Scalar is a JSON value kept verbatim and displayed as text.
// Strings display unquoted; null displays empty.
type Scalar struct {
	text string
	raw  json.RawMessage
}

// stringScalar returns a Scalar holding a JSON string.
func stringScalar(s string) Scalar {
	raw, _ := json.Marshal(s)
	return Scalar{text: s, raw: raw}
}

// numberScalar returns a Scalar holding a JSON number.
func numberScalar(f float64) Scalar {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return Scalar{text: s, raw: json.RawMessage(s)}
}

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	s.raw = append(json.RawMessage(nil), b...)
	switch {
	case bytes.Equal(b, []byte("null")):
		s.text = ""
	case len(b) > 0 && b[0] == '"':
		if err := json.Unmarshal(b, &s.text); err != nil {
			return err
		}
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, b); err != nil {
			return err
		}
		s.text = buf.String()
	}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return s.raw, nil
}

func (s Scalar) String() string { return s.text }

// Float reports the numeric value, if the scalar is a number or a numeric string.
func (s Scalar) Float() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s.text), 64)
	return f, err == nil
}

// Truthy decodes any JSON value by truthiness: false, null, 0 and ""
// are false, everything else is true.
type Truthy bool

func (t *Truthy) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")), bytes.Equal(b, []byte("false")):
		*t = false
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = s != ""
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return err
		}
		*t = f != 0
	default:
		*t = true
	}
	return nil
}
