package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nd-schmidt/pimonitor/internal/classify"
	"github.com/nd-schmidt/pimonitor/internal/identity"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/telemetry"
	"github.com/nd-schmidt/pimonitor/types"
)

const testTopic = "Schmidt/+/report/status"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeSubscriber delivers its retained payloads on Subscribe, the way a broker
// delivers retained messages to a new subscription.
type fakeSubscriber struct {
	mu           sync.Mutex
	retained     map[string][]byte
	handler      func(topic string, payload []byte)
	subscribes   int
	unsubscribes int
	subscribeErr error
}

func (f *fakeSubscriber) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}

	f.mu.Lock()
	f.handler = handler
	f.subscribes++
	f.mu.Unlock()

	for t, payload := range f.retained {
		handler(t, payload)
	}

	return nil
}

func (f *fakeSubscriber) Unsubscribe(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handler = nil
	f.unsubscribes++

	return nil
}

func (f *fakeSubscriber) publish(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()

	if h != nil {
		h(topic, payload)
	}
}

func statusPayload(mac string, ts time.Time, ifaces ...types.Interface) []byte {
	e := &types.Envelope{
		MAC:        mac,
		Timestamp:  types.FormatTimestamp(ts),
		Type:       "status",
		Result:     types.ResultSuccess,
		Interfaces: ifaces,
	}

	return e.MustBytes()
}

func testPipeline(t *testing.T, store *Store) *Pipeline {
	t.Helper()

	return testPipelineWithClock(t, store, func() time.Time { return fixedNow })
}

func testPipelineWithClock(t *testing.T, store *Store, now func() time.Time) *Pipeline {
	t.Helper()

	table, err := identity.NewTable([]model.DeviceIdentity{
		{FleetID: "RPI-01", HardwareAddress: "D8-3A-DD-00-00-01"},
		{FleetID: "RPI-02", HardwareAddress: "D8-3A-DD-00-00-02"},
	})
	require.NoError(t, err)

	n := telemetry.NewNormalizer(
		telemetry.WithClock(now),
		telemetry.WithResolver(table),
	)

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	return NewPipeline(n, classify.DefaultPolicy(), store, logger)
}

func TestCollectorCollect(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(FirstSeenWins)
	sub := &fakeSubscriber{
		retained: map[string][]byte{
			"Schmidt/d8:3a:dd:00:00:01/report/status": statusPayload(
				"d8:3a:dd:00:00:01",
				fixedNow.Add(-5*time.Minute),
				types.Interface{Name: "eth0", Up: true, IP: "10.0.0.5"},
			),
			"Schmidt/d8:3a:dd:00:00:02/report/status": statusPayload(
				"d8:3a:dd:00:00:02",
				fixedNow.Add(-3*time.Hour),
				types.Interface{Name: "eth0", Up: true, IP: "10.0.0.6"},
			),
			"Schmidt/junk/report/status": []byte(`{"mac":`),
		},
	}

	expire := make(chan time.Time)
	c := NewCollector(sub, testTopic, testPipeline(t, store), store, logrus.New(),
		WithWindow(time.Second),
		WithTimer(func(d time.Duration) <-chan time.Time {
			assert.Equal(t, time.Second, d)
			return expire
		}),
	)

	var (
		table Table
		err   error
		done  = make(chan struct{})
	)

	go func() {
		defer close(done)
		table, err = c.Collect(context.Background())
	}()

	// reports arriving within the window are collected, the duplicate is dropped
	require.Eventually(t, func() bool { return store.Len() == 2 }, time.Second, time.Millisecond)
	sub.publish("Schmidt/d8:3a:dd:00:00:01/report/status", statusPayload(
		"d8:3a:dd:00:00:01",
		fixedNow,
		types.Interface{Name: "eth0", Up: false},
	))

	expire <- fixedNow
	<-done

	require.NoError(t, err)
	require.Len(t, table, 2)

	assert.Equal(t, "RPI-01", table[0].Report.FleetID)
	assert.Equal(t, 5*time.Minute, table[0].Report.Age)
	assert.Equal(t, model.AttentionOK, table[0].Classification.State)

	assert.Equal(t, "RPI-02", table[1].Report.FleetID)
	assert.Equal(t, model.AttentionNeeded, table[1].Classification.State)

	assert.Equal(t, 1, sub.subscribes)
	assert.Equal(t, 1, sub.unsubscribes)
}

func TestCollectorEmptyWindow(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(FirstSeenWins)
	sub := &fakeSubscriber{}

	expired := make(chan time.Time, 1)
	expired <- fixedNow

	c := NewCollector(sub, testTopic, testPipeline(t, store), store, logrus.New(),
		WithTimer(func(time.Duration) <-chan time.Time { return expired }),
	)

	table, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestCollectorCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(FirstSeenWins)
	sub := &fakeSubscriber{}

	c := NewCollector(sub, testTopic, testPipeline(t, store), store, logrus.New(),
		WithTimer(func(time.Duration) <-chan time.Time { return make(chan time.Time) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sub.unsubscribes)
}

func TestCollectorSubscribeError(t *testing.T) {
	store := NewStore(FirstSeenWins)
	sub := &fakeSubscriber{subscribeErr: errors.New("not connected")}

	c := NewCollector(sub, testTopic, testPipeline(t, store), store, logrus.New())

	_, err := c.Collect(context.Background())
	assert.ErrorIs(t, err, ErrCollect)
}

func TestPipelineDropsInvalid(t *testing.T) {
	store := NewStore(FirstSeenWins)
	p := testPipeline(t, store)

	b, err := json.Marshal(map[string]any{"mac": "d8:3a:dd:00:00:01", "result": "success"})
	require.NoError(t, err)

	p.HandleMessage("Schmidt/d8:3a:dd:00:00:01/report/status", b)
	p.HandleMessage("Schmidt/d8:3a:dd:00:00:01/report/status", []byte("not json"))

	assert.Equal(t, 0, store.Len())
}

// collectWindow runs one collection window, publishing the given payloads while
// the window is open.
func collectWindow(t *testing.T, c *Collector, sub *fakeSubscriber, expire chan time.Time, payloads map[string][]byte) Table {
	t.Helper()

	var (
		table Table
		err   error
		done  = make(chan struct{})
	)

	go func() {
		defer close(done)
		table, err = c.Collect(context.Background())
	}()

	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()

		return sub.handler != nil
	}, time.Second, time.Millisecond)

	for topic, payload := range payloads {
		sub.publish(topic, payload)
	}

	expire <- fixedNow
	<-done

	require.NoError(t, err)

	return table
}

func TestCollectorSecondWindow(t *testing.T) {
	const topic01 = "Schmidt/d8:3a:dd:00:00:01/report/status"

	first := map[string][]byte{
		topic01: statusPayload("d8:3a:dd:00:00:01", fixedNow.Add(-5*time.Minute),
			types.Interface{Name: "eth0", Up: true, IP: "10.0.0.5"},
		),
	}

	testcases := []struct {
		name      string
		advance   time.Duration
		second    map[string][]byte
		wantAge   time.Duration
		wantState model.AttentionState
		wantWired model.LinkStatus
	}{
		{
			"device reports again and replaces its entry",
			10 * time.Minute,
			map[string][]byte{
				topic01: statusPayload("d8:3a:dd:00:00:01", fixedNow.Add(9*time.Minute),
					types.Interface{Name: "eth0", Up: false},
				),
			},
			time.Minute,
			model.AttentionMaybe,
			model.LinkDown,
		},
		{
			"silent device ages into needs attention",
			3 * time.Hour,
			nil,
			3*time.Hour + 5*time.Minute,
			model.AttentionNeeded,
			model.LinkUnknown,
		},
		{
			"silent device ages past very stale",
			15 * 24 * time.Hour,
			nil,
			15*24*time.Hour + 5*time.Minute,
			model.AttentionIgnore,
			model.LinkUnknown,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			var (
				mu  sync.Mutex
				now = fixedNow
			)

			clock := func() time.Time {
				mu.Lock()
				defer mu.Unlock()

				return now
			}

			store := NewStore(FirstSeenWins)
			sub := &fakeSubscriber{}
			expire := make(chan time.Time)

			c := NewCollector(sub, testTopic, testPipelineWithClock(t, store, clock), store, logrus.New(),
				WithTimer(func(time.Duration) <-chan time.Time { return expire }),
			)

			table := collectWindow(t, c, sub, expire, first)
			require.Len(t, table, 1)
			assert.Equal(t, 5*time.Minute, table[0].Report.Age)
			assert.Equal(t, model.AttentionOK, table[0].Classification.State)
			assert.Equal(t, model.LinkUp, table[0].Classification.Wired)

			mu.Lock()
			now = now.Add(tc.advance)
			mu.Unlock()

			table = collectWindow(t, c, sub, expire, tc.second)
			require.Len(t, table, 1)
			assert.Equal(t, "RPI-01", table[0].Report.FleetID)
			assert.Equal(t, tc.wantAge, table[0].Report.Age)
			assert.Equal(t, tc.wantState, table[0].Classification.State)
			assert.Equal(t, tc.wantWired, table[0].Classification.Wired)
			assert.Equal(t, 2, sub.subscribes)
			assert.Equal(t, 2, sub.unsubscribes)
		})
	}
}
