package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

func report(fleetID string, age time.Duration, ifaces ...model.InterfaceState) *model.DeviceReport {
	return &model.DeviceReport{
		FleetID:         fleetID,
		HardwareAddress: "D8-3A-DD-5C-E1-94",
		Age:             age,
		Interfaces:      ifaces,
	}
}

var (
	ethUp     = model.InterfaceState{Name: "eth0", Up: true, IPAddress: "10.0.0.5"}
	ethDown   = model.InterfaceState{Name: "eth0", Up: false}
	wlan0Up   = model.InterfaceState{Name: "wlan0", Up: true, IPAddress: "192.168.1.20"}
	wlan0Down = model.InterfaceState{Name: "wlan0", Up: false}
	wlan1Up   = model.InterfaceState{Name: "wlan1", Up: true, IPAddress: "192.168.2.20"}
	wlan1Down = model.InterfaceState{Name: "wlan1", Up: false}
	// up without an address is not reachable
	wlan1NoIP = model.InterfaceState{Name: "wlan1", Up: true}
)

func TestClassify(t *testing.T) {
	policy, err := NewPolicy(120, 20160, []string{"RPI-TEST"})
	require.NoError(t, err)

	testcases := []struct {
		name     string
		report   *model.DeviceReport
		expected Classification
	}{
		{
			"wired reachable",
			report("RPI-01", 5*time.Minute, ethUp, wlan0Down),
			Classification{model.AttentionOK, model.LinkUp, model.LinkDown},
		},
		{
			"nothing reachable",
			report("RPI-01", 5*time.Minute, ethDown, wlan0Down, wlan1Down),
			Classification{model.AttentionMaybe, model.LinkDown, model.LinkDown},
		},
		{
			"secondary radio only",
			report("RPI-01", 5*time.Minute, ethDown, wlan0Down, wlan1Up),
			Classification{model.AttentionOK, model.LinkDown, model.LinkUp},
		},
		{
			"primary radio only",
			report("RPI-01", 5*time.Minute, ethDown, wlan0Up, wlan1Down),
			Classification{model.AttentionOK, model.LinkDown, model.LinkUp},
		},
		{
			"up without address",
			report("RPI-01", 5*time.Minute, ethDown, wlan1NoIP),
			Classification{model.AttentionMaybe, model.LinkDown, model.LinkDown},
		},
		{
			"no interfaces",
			report("RPI-01", 5*time.Minute),
			Classification{model.AttentionMaybe, model.LinkDown, model.LinkDown},
		},
		{
			"stale hides interface state",
			report("RPI-01", 150*time.Minute, ethUp, wlan0Up),
			Classification{model.AttentionNeeded, model.LinkUnknown, model.LinkUnknown},
		},
		{
			"very stale is ignored",
			report("RPI-01", 20161*time.Minute, ethUp),
			Classification{model.AttentionIgnore, model.LinkUnknown, model.LinkUnknown},
		},
		{
			"ignore set takes precedence",
			report("RPI-TEST", 0, ethUp, wlan0Up, wlan1Up),
			Classification{model.AttentionIgnore, model.LinkUp, model.LinkUp},
		},
		{
			"ignore set over stale",
			report("RPI-TEST", 500*time.Minute, ethDown),
			Classification{model.AttentionIgnore, model.LinkDown, model.LinkDown},
		},
		{
			"future timestamp is the shortest age",
			report("RPI-01", -90*time.Minute, ethUp),
			Classification{model.AttentionOK, model.LinkUp, model.LinkDown},
		},
		{
			"future timestamp far ahead is not stale",
			report("RPI-01", -30*24*time.Hour, ethDown, wlan0Down),
			Classification{model.AttentionMaybe, model.LinkDown, model.LinkDown},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.report, policy))
		})
	}
}

func TestClassifyStaleBoundary(t *testing.T) {
	policy := DefaultPolicy()

	atThreshold := Classify(report("RPI-01", 120*time.Minute, ethUp), policy)
	assert.Equal(t, model.AttentionOK, atThreshold.State)
	assert.Equal(t, model.LinkUp, atThreshold.Wired)

	// partial minutes are truncated
	justOver := Classify(report("RPI-01", 120*time.Minute+59*time.Second, ethUp), policy)
	assert.Equal(t, model.AttentionOK, justOver.State)

	pastThreshold := Classify(report("RPI-01", 121*time.Minute, ethUp), policy)
	assert.Equal(t, model.AttentionNeeded, pastThreshold.State)
	assert.Equal(t, model.LinkUnknown, pastThreshold.Wired)

	atVeryStale := Classify(report("RPI-01", time.Duration(DefaultVeryStaleThresholdMinutes)*time.Minute, ethUp), policy)
	assert.Equal(t, model.AttentionNeeded, atVeryStale.State)
}

func TestClassifyIsPure(t *testing.T) {
	policy := DefaultPolicy()
	r := report("RPI-01", 5*time.Minute, ethDown, wlan1Up)

	first := Classify(r, policy)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(r, policy))
	}

	assert.Len(t, r.Interfaces, 2, "report not modified")
}

func TestNewPolicy(t *testing.T) {
	_, err := NewPolicy(0, 10, nil)
	assert.ErrorIs(t, err, ErrPolicy)

	_, err = NewPolicy(120, 60, nil)
	assert.ErrorIs(t, err, ErrPolicy)

	p, err := NewPolicy(120, 120, []string{"RPI-10", "RPI-20"})
	require.NoError(t, err)
	assert.True(t, p.Ignored("RPI-10"))
	assert.False(t, p.Ignored("RPI-30"))
}
