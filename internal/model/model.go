package model

import (
	"strings"
	"time"
)

type AppKind string

const (
	AppName = "pimonitor"

	AppKindMonitor AppKind = "monitor"
	AppKindBot     AppKind = "bot"
	AppKindClient  AppKind = "client"
	AppKindFleet   AppKind = "fleet"

	IdentitySourceFile = "file"
	IdentitySourceNATS = "nats"

	LogLevelInfo  = 0
	LogLevelDebug = 1
	LogLevelTrace = 2

	// DefaultNamespace is the first topic segment of every bus topic.
	DefaultNamespace = "Schmidt"
)

// AppKinds returns the supported pimonitor app kinds
func AppKinds() []AppKind { return []AppKind{AppKindMonitor, AppKindBot, AppKindClient, AppKindFleet} }

// IdentitySources returns the supported device identity directory kinds
func IdentitySources() []string {
	return []string{IdentitySourceFile, IdentitySourceNATS}
}

// DeviceIdentity pairs the link-layer address a device publishes under with the
// name operators know it by.
type DeviceIdentity struct {
	// HardwareAddress in canonical form, dash separated upper case hex octets.
	HardwareAddress string `json:"mac" yaml:"mac"`
	FleetID         string `json:"rpi_id" yaml:"rpi_id"`
}

// InterfaceKind groups network interfaces by medium.
type InterfaceKind string

const (
	InterfaceWired    InterfaceKind = "wired"
	InterfaceWireless InterfaceKind = "wireless"
	InterfaceOther    InterfaceKind = "other"
)

// InterfaceState is the reported state of one network interface on a device.
type InterfaceState struct {
	Name            string `json:"name"`
	Up              bool   `json:"up"`
	IPAddress       string `json:"ip,omitempty"`
	HardwareAddress string `json:"mac,omitempty"`
}

// Reachable returns true when the interface is up and holds an address.
func (i InterfaceState) Reachable() bool {
	return i.Up && i.IPAddress != ""
}

// Kind returns the medium of the interface derived from its name,
// eth0/enp1s0 are wired, wlan0/wlan1/wlp2s0 are wireless.
func (i InterfaceState) Kind() InterfaceKind {
	name := strings.ToLower(i.Name)

	switch {
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"):
		return InterfaceWired
	case strings.HasPrefix(name, "wlan"), strings.HasPrefix(name, "wl"):
		return InterfaceWireless
	default:
		return InterfaceOther
	}
}

// DeviceReport is a decoded status telemetry message.
//
// nolint:govet // fieldalignment - struct is better readable in its current form.
type DeviceReport struct {
	FleetID         string
	HardwareAddress string

	// Timestamp is the source asserted report time, always in UTC.
	Timestamp time.Time

	// Age is the time elapsed between Timestamp and the moment the report was
	// normalized, it is negative when the device clock runs ahead.
	Age time.Duration

	Interfaces     []InterfaceState
	RawMessageType string
}

// FutureTimestamp returns true when the device asserted a time ahead of the local clock.
func (r *DeviceReport) FutureTimestamp() bool {
	return r.Age < 0
}

// DisplayAge returns the report age clamped to be non-negative.
func (r *DeviceReport) DisplayAge() time.Duration {
	if r.Age < 0 {
		return 0
	}

	return r.Age
}

// AgeMinutes returns the report age in whole minutes, truncated towards zero.
func (r *DeviceReport) AgeMinutes() int {
	return int(r.Age / time.Minute)
}

// InterfacesByKind returns the interfaces of the given medium in report order.
func (r *DeviceReport) InterfacesByKind(kind InterfaceKind) []InterfaceState {
	found := []InterfaceState{}

	for _, iface := range r.Interfaces {
		if iface.Kind() == kind {
			found = append(found, iface)
		}
	}

	return found
}

// AttentionState is the operator triage classification of a device.
type AttentionState string

const (
	AttentionOK     AttentionState = "OK"
	AttentionMaybe  AttentionState = "MAYBE"
	AttentionNeeded AttentionState = "NEEDS_ATTENTION"
	AttentionIgnore AttentionState = "IGNORED"
)

// AttentionStates returns all attention states in triage order.
func AttentionStates() []AttentionState {
	return []AttentionState{AttentionNeeded, AttentionMaybe, AttentionOK, AttentionIgnore}
}

// RequiresAttention returns true for the states an operator is alerted on.
func (s AttentionState) RequiresAttention() bool {
	return s == AttentionNeeded || s == AttentionMaybe
}

// Label returns the short column label used in rendered tables.
func (s AttentionState) Label() string {
	switch s {
	case AttentionOK:
		return "NO"
	case AttentionMaybe:
		return "MAYBE"
	case AttentionNeeded:
		return "YES"
	case AttentionIgnore:
		return "IGNORED"
	default:
		return string(s)
	}
}

// LinkStatus is the rendered status of a network medium on a device.
type LinkStatus string

const (
	LinkUp      LinkStatus = "UP"
	LinkDown    LinkStatus = "DOWN"
	LinkUnknown LinkStatus = "UNKNOWN"
)
