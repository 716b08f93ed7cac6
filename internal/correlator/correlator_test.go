package correlator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

const (
	rpi02      = "D8-3A-DD-5C-E1-94"
	replyTopic = "Schmidt/" + rpi02 + "/report/config"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func replyPayload(t *testing.T, mutate func(map[string]any)) []byte {
	t.Helper()

	p := map[string]any{
		"mac":       "d8:3a:dd:5c:e1:94",
		"timestamp": "2024-05-01T11:58:00+00:00",
		"type":      "status/ssid",
		"result":    "success",
		"out":       "SchmidtNet",
		"err":       nil,
	}

	if mutate != nil {
		mutate(p)
	}

	b, err := json.Marshal(p)
	require.NoError(t, err)

	return b
}

func TestCorrelate(t *testing.T) {
	c := New(WithClock(clock))

	reply, err := c.Correlate(replyTopic, replyPayload(t, nil))
	require.NoError(t, err)

	assert.Equal(t, rpi02, reply.HardwareAddress)
	assert.Equal(t, "status", reply.Verb)
	assert.Equal(t, []string{"status", "ssid"}, reply.VariantPath)
	assert.Equal(t, "ssid", reply.Selector())
	assert.Equal(t, model.ResultSuccess, reply.Result)
	assert.Equal(t, fixedNow.Add(-2*time.Minute), reply.Timestamp)
	assert.JSONEq(t, `"SchmidtNet"`, string(reply.Out))
	assert.Empty(t, reply.Error)
}

func TestCorrelatePerVerbTopic(t *testing.T) {
	c := New(WithClock(clock))

	// the payload type wins over the topic path
	reply, err := c.Correlate(replyTopic+"/logs/mqtt", replyPayload(t, func(p map[string]any) {
		p["type"] = "logs/speedtest"
		p["out"] = map[string]any{"log": "ok"}
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"logs", "speedtest"}, reply.VariantPath)

	// without a payload type the topic path is used
	reply, err = c.Correlate(replyTopic+"/logs/mqtt", replyPayload(t, func(p map[string]any) {
		delete(p, "type")
		p["out"] = map[string]any{"log": "ok"}
	}))
	require.NoError(t, err)
	assert.Equal(t, "logs", reply.Verb)
	assert.Equal(t, []string{"logs", "mqtt"}, reply.VariantPath)
}

func TestCorrelateAddressFallback(t *testing.T) {
	c := New(WithClock(clock))

	reply, err := c.Correlate("Schmidt/rpi-bench/report/config", replyPayload(t, nil))
	require.NoError(t, err)
	assert.Equal(t, rpi02, reply.HardwareAddress)

	reply, err = c.Correlate("Schmidt/rpi-bench/report/config", replyPayload(t, func(p map[string]any) {
		delete(p, "mac")
	}))
	require.NoError(t, err)
	assert.Equal(t, "rpi-bench", reply.HardwareAddress)
}

func TestCorrelateFailure(t *testing.T) {
	c := New(WithClock(clock))

	reply, err := c.Correlate(replyTopic, replyPayload(t, func(p map[string]any) {
		p["type"] = "reboot"
		p["result"] = "failure"
		p["err"] = "permission denied"
		delete(p, "out")
	}))
	require.NoError(t, err)

	assert.False(t, reply.Succeeded())
	assert.Equal(t, `"permission denied"`, reply.Error)
}

func TestCorrelateFreshness(t *testing.T) {
	c := New(WithClock(clock))

	testcases := []struct {
		name      string
		timestamp string
		err       error
	}{
		{"within window", "2024-05-01T11:50:00Z", nil},
		{"past window", "2024-05-01T11:49:59Z", ErrStaleReply},
		{"retained from yesterday", "2024-04-30T12:00:00Z", ErrStaleReply},
		{"device clock ahead", "2024-05-01T12:30:00Z", nil},
		{"naive timestamp read as UTC", "2024-05-01 11:59:00.123456", nil},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Correlate(replyTopic, replyPayload(t, func(p map[string]any) {
				p["timestamp"] = tc.timestamp
			}))

			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestCorrelateFreshnessOption(t *testing.T) {
	c := New(WithClock(clock), WithFreshness(time.Minute))

	_, err := c.Correlate(replyTopic, replyPayload(t, nil))
	assert.ErrorIs(t, err, ErrStaleReply)
}

func TestCorrelateDrops(t *testing.T) {
	c := New(WithClock(clock))

	testcases := []struct {
		name    string
		topic   string
		payload []byte
		err     error
		field   string
	}{
		{
			"missing timestamp",
			replyTopic,
			replyPayload(t, func(p map[string]any) { delete(p, "timestamp") }),
			ErrMissingField,
			"timestamp",
		},
		{
			"null result",
			replyTopic,
			replyPayload(t, func(p map[string]any) { p["result"] = nil }),
			ErrMissingField,
			"result",
		},
		{
			"missing type without topic path",
			replyTopic,
			replyPayload(t, func(p map[string]any) { delete(p, "type") }),
			ErrMissingField,
			"type",
		},
		{
			"success without out",
			replyTopic,
			replyPayload(t, func(p map[string]any) { delete(p, "out") }),
			ErrMissingField,
			"out",
		},
		{
			"unexpected result",
			replyTopic,
			replyPayload(t, func(p map[string]any) { p["result"] = "maybe" }),
			ErrMalformed,
			"maybe",
		},
		{
			"bad timestamp",
			replyTopic,
			replyPayload(t, func(p map[string]any) { p["timestamp"] = "yesterday" }),
			ErrMalformed,
			"timestamp",
		},
		{
			"not json",
			replyTopic,
			[]byte("pong"),
			ErrMalformed,
			"",
		},
		{
			"telemetry topic",
			"Schmidt/" + rpi02 + "/report/status",
			replyPayload(t, nil),
			ErrTopic,
			"",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := c.Correlate(tc.topic, tc.payload)
			assert.Nil(t, reply)
			assert.ErrorIs(t, err, tc.err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestTracker(t *testing.T) {
	now := fixedNow
	tracker := NewTracker(func() time.Time { return now })

	assert.False(t, tracker.Begin(rpi02, "status"))
	assert.True(t, tracker.Begin(rpi02, "status"))
	assert.False(t, tracker.Begin(rpi02, "logs"))
	assert.Equal(t, 2, tracker.Pending())

	now = now.Add(3 * time.Second)

	elapsed, ok := tracker.Complete(rpi02, "status")
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, elapsed)

	_, ok = tracker.Complete(rpi02, "status")
	assert.False(t, ok)
	assert.Equal(t, 1, tracker.Pending())
}

func TestCorrelateRequiredFields(t *testing.T) {
	c := New(WithClock(clock))

	testcases := []struct {
		name   string
		mutate func(map[string]any)
		err    error
	}{
		{"success without err", func(p map[string]any) { delete(p, "err") }, nil},
		{"failure without out", func(p map[string]any) {
			p["result"] = "failure"
			delete(p, "out")
		}, nil},
		{"success without out", func(p map[string]any) { delete(p, "out") }, ErrMissingField},
		{"success with null out", func(p map[string]any) { p["out"] = nil }, ErrMissingField},
		{"missing timestamp", func(p map[string]any) { delete(p, "timestamp") }, ErrMissingField},
		{"missing result", func(p map[string]any) { delete(p, "result") }, ErrMissingField},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Correlate(replyTopic, replyPayload(t, tc.mutate))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}

			assert.NoError(t, err)
		})
	}
}
