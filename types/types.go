package types

import (
	"encoding/json"
	"time"
)

const (
	Version int32 = 1

	FieldMAC        = "mac"
	FieldTimestamp  = "timestamp"
	FieldType       = "type"
	FieldResult     = "result"
	FieldInterfaces = "interfaces"
	FieldOut        = "out"
	FieldErr        = "err"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Envelope is the canonical JSON body a device publishes on its report topics,
// both for periodic status telemetry and for command replies.
type Envelope struct {
	MAC        string          `json:"mac"`
	Timestamp  string          `json:"timestamp"`
	Type       string          `json:"type"`
	Result     string          `json:"result"`
	Interfaces []Interface     `json:"interfaces,omitempty"`
	Out        json.RawMessage `json:"out,omitempty"`
	Err        json.RawMessage `json:"err,omitempty"`
	MsgVersion int32           `json:"msgVersion,omitempty"`
}

// Interface is the reported state of one network interface.
type Interface struct {
	Name string `json:"name"`
	Up   bool   `json:"up"`
	IP   string `json:"ip,omitempty"`
	MAC  string `json:"mac,omitempty"`
}

// FormatTimestamp returns the timestamp in the form devices publish it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// MustBytes sets the version field of the Envelope so any callers don't have
// to deal with it. It will panic if we cannot serialize to JSON for some reason.
func (e *Envelope) MustBytes() []byte {
	e.MsgVersion = Version
	byt, err := json.Marshal(e)
	if err != nil {
		panic("unable to serialize envelope: " + err.Error())
	}
	return byt
}
