package aggregator

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nd-schmidt/pimonitor/internal/classify"
	"github.com/nd-schmidt/pimonitor/internal/model"
)

func testReport(fleetID string, age time.Duration, ifaces ...model.InterfaceState) *model.DeviceReport {
	return &model.DeviceReport{
		FleetID:         fleetID,
		HardwareAddress: "D8-3A-DD-5C-E1-94",
		Age:             age,
		Interfaces:      ifaces,
	}
}

var (
	ethUp   = model.InterfaceState{Name: "eth0", Up: true, IPAddress: "10.0.0.5"}
	ethDown = model.InterfaceState{Name: "eth0"}
)

func ingest(s *Store, r *model.DeviceReport) bool {
	return s.Ingest(r, classify.Classify(r, classify.DefaultPolicy()))
}

func TestStoreFirstSeenWins(t *testing.T) {
	s := NewStore("")
	assert.Equal(t, FirstSeenWins, s.Policy())

	assert.True(t, ingest(s, testReport("RPI-01", time.Minute, ethUp)))
	assert.False(t, ingest(s, testReport("RPI-01", 2*time.Minute, ethDown)))

	table, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, time.Minute, table[0].Report.Age)
	assert.Equal(t, model.AttentionOK, table[0].Classification.State)
}

func TestStoreLastSeenWins(t *testing.T) {
	s := NewStore(LastSeenWins)

	assert.True(t, ingest(s, testReport("RPI-01", time.Minute, ethUp)))
	assert.True(t, ingest(s, testReport("RPI-01", 2*time.Minute, ethDown)))

	table, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, 2*time.Minute, table[0].Report.Age)
	assert.Equal(t, model.AttentionMaybe, table[0].Classification.State)
}

func TestStoreIngestIdempotent(t *testing.T) {
	for _, policy := range []DedupPolicy{FirstSeenWins, LastSeenWins} {
		t.Run(string(policy), func(t *testing.T) {
			s := NewStore(policy)
			r := testReport("RPI-01", time.Minute, ethUp)

			ingest(s, r)
			first, err := s.Snapshot()
			require.NoError(t, err)

			ingest(s, r)
			second, err := s.Snapshot()
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestStoreStartWindow(t *testing.T) {
	s := NewStore(FirstSeenWins)

	ingest(s, testReport("RPI-01", time.Minute, ethUp))
	ingest(s, testReport("RPI-02", time.Minute, ethUp))

	s.StartWindow()

	// entries from the previous window are retained
	assert.Equal(t, 2, s.Len())

	// and may be replaced once in the new window
	assert.True(t, ingest(s, testReport("RPI-01", 3*time.Minute, ethDown)))
	assert.False(t, ingest(s, testReport("RPI-01", 4*time.Minute, ethUp)))

	table, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, table[0].Report.Age)
	assert.Equal(t, time.Minute, table[1].Report.Age)
}

func TestStoreSnapshot(t *testing.T) {
	s := NewStore(FirstSeenWins)

	for _, id := range []string{"RPI-10", "RPI-02", "RPI-07"} {
		ingest(s, testReport(id, time.Minute, ethUp))
	}

	table, err := s.Snapshot()
	require.NoError(t, err)

	got := []string{}
	for _, e := range table {
		got = append(got, e.Report.FleetID)
	}

	assert.Equal(t, []string{"RPI-02", "RPI-07", "RPI-10"}, got)

	// mutating the snapshot does not change the store
	table[0].Report.Interfaces[0].Up = false
	table[0].Report.FleetID = "changed"

	again, err := s.Snapshot()
	require.NoError(t, err)
	assert.True(t, again[0].Report.Interfaces[0].Up)
	assert.Equal(t, "RPI-02", again[0].Report.FleetID)
}

func TestStoreConcurrentIngest(t *testing.T) {
	s := NewStore(FirstSeenWins)

	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			for j := 0; j < 10; j++ {
				ingest(s, testReport(fmt.Sprintf("RPI-%02d", i), time.Duration(j)*time.Minute, ethUp))
			}
		}(i)
	}

	wg.Wait()

	table, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, table, 20)
}

func TestTableAttention(t *testing.T) {
	s := NewStore(FirstSeenWins)

	ingest(s, testReport("RPI-01", time.Minute, ethUp))
	ingest(s, testReport("RPI-02", time.Minute, ethDown))
	ingest(s, testReport("RPI-03", 200*time.Minute, ethUp))
	ingest(s, testReport("RPI-04", 30000*time.Minute, ethUp))

	table, err := s.Snapshot()
	require.NoError(t, err)

	attention := table.Attention()
	require.Len(t, attention, 2)
	assert.Equal(t, "RPI-02", attention[0].Report.FleetID)
	assert.Equal(t, "RPI-03", attention[1].Report.FleetID)

	assert.Equal(t, map[model.AttentionState]int{
		model.AttentionOK:     1,
		model.AttentionMaybe:  1,
		model.AttentionNeeded: 1,
		model.AttentionIgnore: 1,
	}, table.CountByState())
}

func TestParseDedupPolicy(t *testing.T) {
	p, err := ParseDedupPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FirstSeenWins, p)

	p, err = ParseDedupPolicy("last-seen")
	require.NoError(t, err)
	assert.Equal(t, LastSeenWins, p)

	_, err = ParseDedupPolicy("newest")
	assert.ErrorIs(t, err, ErrDedupPolicy)
}

func TestStoreReclassify(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s := NewStore(FirstSeenWins)
	r := testReport("RPI-01", 5*time.Minute, ethUp)
	r.Timestamp = now.Add(-5 * time.Minute)

	require.True(t, ingest(s, r))

	s.Reclassify(now.Add(3*time.Hour), classify.DefaultPolicy())

	table, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, 3*time.Hour+5*time.Minute, table[0].Report.Age)
	assert.Equal(t, model.AttentionNeeded, table[0].Classification.State)
	assert.Equal(t, model.LinkUnknown, table[0].Classification.Wired)
	assert.Equal(t, model.LinkUnknown, table[0].Classification.Wireless)

	// the device reports again in a later window
	s.StartWindow()
	fresh := testReport("RPI-01", time.Minute, ethUp)
	fresh.Timestamp = now.Add(3*time.Hour - time.Minute)
	require.True(t, ingest(s, fresh))

	s.Reclassify(now.Add(3*time.Hour), classify.DefaultPolicy())

	table, err = s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, table[0].Report.Age)
	assert.Equal(t, model.AttentionOK, table[0].Classification.State)
}
