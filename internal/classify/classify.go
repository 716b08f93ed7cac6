package classify

import (
	"github.com/pkg/errors"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

const (
	DefaultStaleThresholdMinutes = 120
	// two weeks
	DefaultVeryStaleThresholdMinutes = 14 * 24 * 60
)

var (
	ErrPolicy = errors.New("classification policy error")
)

// Policy holds the classification thresholds and operator exclusions.
type Policy struct {
	// StaleThresholdMinutes is the report age past which a device needs attention.
	StaleThresholdMinutes int
	// VeryStaleThresholdMinutes is the report age past which a device is presumed
	// decommissioned and ignored.
	VeryStaleThresholdMinutes int
	// Ignore is the set of fleet identifiers always classified as ignored.
	Ignore map[string]struct{}
}

// DefaultPolicy returns a Policy with the default thresholds and an empty ignore set.
func DefaultPolicy() Policy {
	return Policy{
		StaleThresholdMinutes:     DefaultStaleThresholdMinutes,
		VeryStaleThresholdMinutes: DefaultVeryStaleThresholdMinutes,
		Ignore:                    map[string]struct{}{},
	}
}

// NewPolicy returns a validated Policy.
func NewPolicy(staleMinutes, veryStaleMinutes int, ignore []string) (Policy, error) {
	if staleMinutes <= 0 {
		return Policy{}, errors.Wrap(ErrPolicy, "stale threshold must be positive")
	}

	if veryStaleMinutes < staleMinutes {
		return Policy{}, errors.Wrap(ErrPolicy, "very stale threshold must not be below the stale threshold")
	}

	p := Policy{
		StaleThresholdMinutes:     staleMinutes,
		VeryStaleThresholdMinutes: veryStaleMinutes,
		Ignore:                    make(map[string]struct{}, len(ignore)),
	}

	for _, id := range ignore {
		p.Ignore[id] = struct{}{}
	}

	return p, nil
}

// Ignored returns true when the fleet identifier is in the ignore set.
func (p Policy) Ignored(fleetID string) bool {
	_, ok := p.Ignore[fleetID]
	return ok
}

// Classification is the derived health of a device report.
type Classification struct {
	State    model.AttentionState
	Wired    model.LinkStatus
	Wireless model.LinkStatus
}

// Classify derives the attention state of the report under the policy,
// the first matching rule wins,
//
//  1. fleet id in the ignore set - IGNORED
//  2. age past the very stale threshold - IGNORED
//  3. age past the stale threshold - NEEDS_ATTENTION, link status UNKNOWN
//  4. no wired and no wireless interface reachable - MAYBE
//  5. OK
//
// Age is compared in whole minutes, a report aged exactly the threshold is not
// past it. A negative age, a device clock running ahead, is treated as the shortest age.
func Classify(report *model.DeviceReport, policy Policy) Classification {
	ageMinutes := report.AgeMinutes()
	wired, wireless := linkStatus(report)

	c := Classification{
		State:    model.AttentionOK,
		Wired:    wired,
		Wireless: wireless,
	}

	switch {
	case policy.Ignored(report.FleetID):
		c.State = model.AttentionIgnore
	case ageMinutes > policy.VeryStaleThresholdMinutes:
		c.State = model.AttentionIgnore
		c.Wired, c.Wireless = model.LinkUnknown, model.LinkUnknown
	case ageMinutes > policy.StaleThresholdMinutes:
		// a stale device cannot be trusted on its last known link state
		c.State = model.AttentionNeeded
		c.Wired, c.Wireless = model.LinkUnknown, model.LinkUnknown
	case wired != model.LinkUp && wireless != model.LinkUp:
		c.State = model.AttentionMaybe
	}

	return c
}

// linkStatus returns the wired and wireless status, a medium is UP when any of
// its interfaces is reachable.
func linkStatus(report *model.DeviceReport) (wired, wireless model.LinkStatus) {
	return mediumStatus(report.InterfacesByKind(model.InterfaceWired)),
		mediumStatus(report.InterfacesByKind(model.InterfaceWireless))
}

func mediumStatus(ifaces []model.InterfaceState) model.LinkStatus {
	for _, iface := range ifaces {
		if iface.Reachable() {
			return model.LinkUp
		}
	}

	return model.LinkDown
}
