package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nd-schmidt/pimonitor/internal/identity"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/types"
)

var (
	ErrMalformed    = errors.New("malformed telemetry payload")
	ErrMissingField = errors.New("telemetry payload missing required field")

	// RequiredFields are checked in this order, the first absent field is reported.
	RequiredFields = []string{types.FieldMAC, types.FieldTimestamp, types.FieldResult, types.FieldInterfaces}

	// timestampLayouts are tried in order, layouts without a zone are read as UTC.
	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
	}
)

// ParseError is returned for payloads that cannot be normalized,
// Kind is one of ErrMalformed or ErrMissingField.
type ParseError struct {
	Kind  error
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += ": " + e.Field
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

func malformed(field string, err error) *ParseError {
	return &ParseError{Kind: ErrMalformed, Field: field, Err: err}
}

func missing(field string) *ParseError {
	return &ParseError{Kind: ErrMissingField, Field: field}
}

// Option sets a Normalizer parameter.
type Option func(*Normalizer)

// WithClock sets the clock used to compute report age.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// WithResolver sets the identity resolver used to assign fleet identifiers.
func WithResolver(r identity.Resolver) Option {
	return func(n *Normalizer) {
		n.resolver = r
	}
}

// Normalizer decodes raw status telemetry into device reports.
type Normalizer struct {
	now      func() time.Time
	resolver identity.Resolver
}

// NewNormalizer returns a Normalizer, without a resolver reports carry the raw
// hardware address as their fleet identifier.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Now returns the current time of the Normalizer clock.
func (n *Normalizer) Now() time.Time {
	return n.now()
}

// Normalize decodes the payload into a DeviceReport.
//
// Report age is computed against the Normalizer clock, a timestamp in the future
// results in a negative age and is not rejected.
func (n *Normalizer) Normalize(payload []byte) (*model.DeviceReport, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, malformed("", err)
	}

	for _, field := range RequiredFields {
		if v, exists := fields[field]; !exists || string(v) == "null" {
			return nil, missing(field)
		}
	}

	var mac, rawTimestamp, result, msgType string

	if err := json.Unmarshal(fields[types.FieldMAC], &mac); err != nil || mac == "" {
		return nil, malformed(types.FieldMAC, err)
	}

	if err := json.Unmarshal(fields[types.FieldTimestamp], &rawTimestamp); err != nil {
		return nil, malformed(types.FieldTimestamp, err)
	}

	timestamp, err := ParseTimestamp(rawTimestamp)
	if err != nil {
		return nil, malformed(types.FieldTimestamp, err)
	}

	if err := json.Unmarshal(fields[types.FieldResult], &result); err != nil {
		return nil, malformed(types.FieldResult, err)
	}

	wireIfaces := []types.Interface{}
	if err := json.Unmarshal(fields[types.FieldInterfaces], &wireIfaces); err != nil {
		return nil, malformed(types.FieldInterfaces, err)
	}

	if v, exists := fields[types.FieldType]; exists {
		// the message type is informational
		_ = json.Unmarshal(v, &msgType)
	}

	if msgType == "" {
		msgType = "status"
	}

	address := identity.CanonicalOrRaw(mac)

	report := &model.DeviceReport{
		FleetID:         address,
		HardwareAddress: address,
		Timestamp:       timestamp,
		Age:             n.now().Sub(timestamp),
		RawMessageType:  msgType,
		Interfaces:      make([]model.InterfaceState, 0, len(wireIfaces)),
	}

	if n.resolver != nil {
		report.FleetID = identity.FleetIDOrAddress(n.resolver, address)
	}

	// a device reporting failure could not read its interfaces, whatever was
	// sent along is not trusted.
	if !strings.EqualFold(result, types.ResultSuccess) {
		return report, nil
	}

	for _, iface := range wireIfaces {
		report.Interfaces = append(report.Interfaces, model.InterfaceState{
			Name:            iface.Name,
			Up:              iface.Up,
			IPAddress:       strings.TrimSpace(iface.IP),
			HardwareAddress: identity.CanonicalOrRaw(iface.MAC),
		})
	}

	return report, nil
}

// ParseTimestamp parses a device asserted timestamp into UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", s)
}
