package aggregator

import (
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nd-schmidt/pimonitor/internal/classify"
	"github.com/nd-schmidt/pimonitor/internal/model"
)

// DedupPolicy decides which report for a fleet id is kept within one collection window.
type DedupPolicy string

const (
	// FirstSeenWins keeps the first report received in the window, later
	// reports for the same device are dropped to avoid flapping.
	FirstSeenWins DedupPolicy = "first-seen"
	// LastSeenWins overwrites the entry with every report received.
	LastSeenWins DedupPolicy = "last-seen"
)

var (
	ErrDedupPolicy = errors.New("unknown dedup policy")
)

// ParseDedupPolicy returns the DedupPolicy for the given name, the empty string
// returns the default FirstSeenWins policy.
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(s) {
	case "", FirstSeenWins:
		return FirstSeenWins, nil
	case LastSeenWins:
		return LastSeenWins, nil
	default:
		return "", errors.Wrap(ErrDedupPolicy, s)
	}
}

// Entry is a device report along with its classification.
type Entry struct {
	Report         model.DeviceReport
	Classification classify.Classification
}

// Table is a snapshot of the aggregated reports ordered by fleet id.
type Table []Entry

// Attention returns the entries that require operator attention.
func (t Table) Attention() Table {
	found := Table{}

	for _, e := range t {
		if e.Classification.State.RequiresAttention() {
			found = append(found, e)
		}
	}

	return found
}

// CountByState returns the number of entries in each attention state.
func (t Table) CountByState() map[model.AttentionState]int {
	counts := make(map[model.AttentionState]int, len(model.AttentionStates()))
	for _, state := range model.AttentionStates() {
		counts[state] = 0
	}

	for _, e := range t {
		counts[e.Classification.State]++
	}

	return counts
}

// Store holds the current best known report per fleet id.
//
// Store is safe for concurrent use, all access is serialized on a single mutex.
// Entries are replaced, never removed.
type Store struct {
	mu      sync.Mutex
	policy  DedupPolicy
	entries map[string]Entry
	// seen holds the fleet ids recorded in the current collection window.
	seen map[string]struct{}
}

// NewStore returns an empty Store.
func NewStore(policy DedupPolicy) *Store {
	if policy == "" {
		policy = FirstSeenWins
	}

	return &Store{
		policy:  policy,
		entries: map[string]Entry{},
		seen:    map[string]struct{}{},
	}
}

// Policy returns the dedup policy of the store.
func (s *Store) Policy() DedupPolicy {
	return s.policy
}

// StartWindow begins a new collection window, every fleet id may be recorded once more.
// Entries from earlier windows are retained until replaced.
func (s *Store) StartWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = map[string]struct{}{}
}

// Ingest records the report under its fleet id and returns true when the
// entry was written. Under FirstSeenWins a second report for the same fleet id
// in the window is dropped.
func (s *Store) Ingest(report *model.DeviceReport, c classify.Classification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.seen[report.FleetID]; seen && s.policy == FirstSeenWins {
		return false
	}

	s.seen[report.FleetID] = struct{}{}
	s.entries[report.FleetID] = Entry{Report: *report, Classification: c}

	return true
}

// Reclassify recomputes the age of every entry against now and classifies it again,
// entries carried over from earlier windows age even when the device went silent.
func (s *Store) Reclassify(now time.Time, policy classify.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		entry.Report.Age = now.Sub(entry.Report.Timestamp)
		entry.Classification = classify.Classify(&entry.Report, policy)
		s.entries[id] = entry
	}
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Snapshot returns a deep copy of the entries ordered by fleet id.
func (s *Store) Snapshot() (Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := maps.Keys(s.entries)
	slices.Sort(ids)

	table := make(Table, 0, len(ids))

	for _, id := range ids {
		entry := s.entries[id]

		// the interface list is the only reference held by an entry
		ifaces := make([]model.InterfaceState, 0, len(entry.Report.Interfaces))
		if err := copier.CopyWithOption(&ifaces, entry.Report.Interfaces, copier.Option{DeepCopy: true}); err != nil {
			return nil, errors.Wrap(err, "snapshot entry "+id)
		}

		entry.Report.Interfaces = ifaces
		table = append(table, entry)
	}

	return table, nil
}
