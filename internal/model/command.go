package model

import (
	"encoding/json"
	"strings"
	"time"
)

// CommandRequest is an operator command addressed to a single device.
type CommandRequest struct {
	FleetID string
	Verb    string
	Args    []string
}

// ReplyResult is the outcome a device declares for a command.
type ReplyResult string

const (
	ResultSuccess ReplyResult = "success"
	ResultFailure ReplyResult = "failure"
)

// CommandReply is a device reply to a command, correlated to its request only by
// the device address and the verb prefix.
//
// nolint:govet // fieldalignment - struct is better readable in its current form.
type CommandReply struct {
	HardwareAddress string
	Verb            string

	// VariantPath holds the command sub-type segments, for a reply of type
	// status/ssid this is [status ssid].
	VariantPath []string

	Timestamp time.Time
	Result    ReplyResult

	// Out is the raw structured result payload.
	Out json.RawMessage

	// Error is the device supplied error, set on failure.
	Error string
}

// Succeeded returns true when the device reported success.
func (r *CommandReply) Succeeded() bool {
	return r.Result == ResultSuccess
}

// Selector returns the first sub-selector following the verb, if any.
func (r *CommandReply) Selector() string {
	if len(r.VariantPath) < 2 {
		return ""
	}

	return r.VariantPath[1]
}

// Type returns the declared message type, the variant path joined by slashes.
func (r *CommandReply) Type() string {
	return strings.Join(r.VariantPath, "/")
}
