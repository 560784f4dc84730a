// Package query normalizes and validates a propagation-check request
// before it is submitted.
package query

import (
	"errors"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxDomainLength is the DNS limit on a hostname's textual length. It must
// match the max tag on input.Name.
const MaxDomainLength = 253

var (
	ErrEmptyDomain       = errors.New("empty domain")
	ErrMissingRecordType = errors.New("missing record type")
	ErrDomainTooLong     = errors.New("domain too long")
)

// RecordTypes are the choices offered by the record-type selector.
// The backend owns the accepted set; Validate only checks non-empty.
var RecordTypes = []string{"A", "AAAA", "CNAME", "MX", "TXT", "NS", "SOA", "CAA", "SRV", "PTR"}

// Request is a validated query, ready to be sent.
type Request struct {
	Name string
	Type string
}

func (r Request) String() string {
	return r.Name + " / " + r.Type
}

// Normalize cleans user input into a bare hostname. Case is preserved.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
			s = u.Hostname()
		}
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSuffix(s, ".")
}

// input is what the user typed, after normalization.
type input struct {
	Name string `validate:"required,max=253"`
	Type string `validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate normalizes domain and checks both fields. Errors are reported
// in order: empty domain, missing type, domain too long.
func Validate(domain, recordType string) (Request, error) {
	in := input{Name: Normalize(domain), Type: recordType}
	if err := validate.Struct(in); err != nil {
		return Request{}, fieldError(err)
	}
	return Request{Name: in.Name, Type: in.Type}, nil
}

// fieldError maps validator failures to the package's sentinel errors.
func fieldError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	failed := make(map[string]bool, len(fields))
	for _, fe := range fields {
		failed[fe.Field()+"."+fe.Tag()] = true
	}
	switch {
	case failed["Name.required"]:
		return ErrEmptyDomain
	case failed["Type.required"]:
		return ErrMissingRecordType
	case failed["Name.max"]:
		return ErrDomainTooLong
	}
	return err
}

// Describe returns a short title and message for a validation error.
func Describe(err error) (title, text string) {
	switch {
	case errors.Is(err, ErrEmptyDomain):
		return "Missing input", "Please enter a domain/hostname."
	case errors.Is(err, ErrMissingRecordType):
		return "Missing input", "Please select a record type."
	case errors.Is(err, ErrDomainTooLong):
		return "Invalid domain", "The domain looks too long."
	}
	return "Invalid input", err.Error()
}
