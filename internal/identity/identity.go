package identity

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

var (
	ErrIdentityTable = errors.New("device identity table error")
	ErrDirectory     = errors.New("device identity directory error")
	ErrNotFound      = errors.New("device identity not found")
)

// Resolver maps hardware addresses to fleet identifiers and back.
//
// Lookups never fail loudly, a false return value indicates the identity is not part
// of the configured fleet and the caller decides on the fallback.
type Resolver interface {
	// FleetID returns the fleet identifier for the hardware address.
	FleetID(address string) (string, bool)
	// Address returns the canonical hardware address for the fleet identifier.
	Address(fleetID string) (string, bool)
	// List returns all identities ordered by fleet identifier.
	List() []model.DeviceIdentity
}

// Directory is a source of device identities.
type Directory interface {
	List(ctx context.Context) ([]model.DeviceIdentity, error)
	ByID(ctx context.Context, fleetID string) (*model.DeviceIdentity, error)
	ByAddress(ctx context.Context, address string) (*model.DeviceIdentity, error)
}

// Table is an immutable bijective identity lookup table.
type Table struct {
	byAddress map[string]string
	byID      map[string]string
}

// NewTable returns a Table for the given identities.
//
// Every identity address is normalized, an error is returned listing each
// identity with an invalid address or a duplicate address or fleet identifier.
func NewTable(identities []model.DeviceIdentity) (*Table, error) {
	t := &Table{
		byAddress: make(map[string]string, len(identities)),
		byID:      make(map[string]string, len(identities)),
	}

	var merr *multierror.Error

	for _, ident := range identities {
		if ident.FleetID == "" {
			merr = multierror.Append(merr, fmt.Errorf("address %q: empty fleet id", ident.HardwareAddress))
			continue
		}

		address, ok := NormalizeAddress(ident.HardwareAddress)
		if !ok {
			merr = multierror.Append(merr, fmt.Errorf("%s: invalid hardware address %q", ident.FleetID, ident.HardwareAddress))
			continue
		}

		if other, exists := t.byAddress[address]; exists {
			merr = multierror.Append(merr, fmt.Errorf("%s: address %s already assigned to %s", ident.FleetID, address, other))
			continue
		}

		if other, exists := t.byID[ident.FleetID]; exists {
			merr = multierror.Append(merr, fmt.Errorf("%s: fleet id already assigned to %s", ident.FleetID, other))
			continue
		}

		t.byAddress[address] = ident.FleetID
		t.byID[ident.FleetID] = address
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, errors.Wrap(ErrIdentityTable, err.Error())
	}

	return t, nil
}

// FleetID implements the Resolver interface.
func (t *Table) FleetID(address string) (string, bool) {
	canonical, ok := NormalizeAddress(address)
	if !ok {
		return "", false
	}

	id, ok := t.byAddress[canonical]

	return id, ok
}

// Address implements the Resolver interface.
func (t *Table) Address(fleetID string) (string, bool) {
	address, ok := t.byID[fleetID]
	return address, ok
}

// List implements the Resolver interface.
func (t *Table) List() []model.DeviceIdentity {
	ids := maps.Keys(t.byID)
	slices.Sort(ids)

	identities := make([]model.DeviceIdentity, 0, len(ids))
	for _, id := range ids {
		identities = append(identities, model.DeviceIdentity{FleetID: id, HardwareAddress: t.byID[id]})
	}

	return identities
}

// Len returns the number of identities in the table.
func (t *Table) Len() int {
	return len(t.byID)
}

// FleetIDOrAddress returns the fleet identifier for the address, falling back to
// the address itself when it is not part of the fleet.
func FleetIDOrAddress(r Resolver, address string) string {
	if id, ok := r.FleetID(address); ok {
		return id
	}

	return address
}

// Snapshot lists the directory once and returns the resulting lookup table.
func Snapshot(ctx context.Context, dir Directory) (*Table, error) {
	identities, err := dir.List(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrDirectory, err.Error())
	}

	return NewTable(identities)
}
