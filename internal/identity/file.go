package identity

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

// File is a static identity directory read from a YAML or JSON file.
//
// Two layouts are accepted, a mapping of fleet identifier to hardware address,
//
//	RPI-10: 8E-51-F9-59-3F-8D
//	RPI-20: D8-3A-DD-41-AA-94
//
// or a list of identity records,
//
//	- rpi_id: RPI-10
//	  mac: 8e:51:f9:59:3f:8d
type File struct {
	path       string
	identities []model.DeviceIdentity
}

// LoadFile reads the identity file at path.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrDirectory, err.Error())
	}

	identities, err := parseIdentities(b)
	if err != nil {
		return nil, errors.Wrap(ErrDirectory, path+": "+err.Error())
	}

	return &File{path: path, identities: identities}, nil
}

func parseIdentities(b []byte) ([]model.DeviceIdentity, error) {
	byID := map[string]string{}
	if err := yaml.Unmarshal(b, &byID); err == nil {
		identities := make([]model.DeviceIdentity, 0, len(byID))
		for id, address := range byID {
			identities = append(identities, model.DeviceIdentity{FleetID: id, HardwareAddress: address})
		}

		return identities, nil
	}

	identities := []model.DeviceIdentity{}
	if err := yaml.Unmarshal(b, &identities); err != nil {
		return nil, err
	}

	return identities, nil
}

// List implements the Directory interface.
func (f *File) List(_ context.Context) ([]model.DeviceIdentity, error) {
	return append([]model.DeviceIdentity(nil), f.identities...), nil
}

// ByID implements the Directory interface.
func (f *File) ByID(_ context.Context, fleetID string) (*model.DeviceIdentity, error) {
	for _, ident := range f.identities {
		if ident.FleetID == fleetID {
			found := ident
			return &found, nil
		}
	}

	return nil, errors.Wrap(ErrNotFound, fleetID)
}

// ByAddress implements the Directory interface.
func (f *File) ByAddress(_ context.Context, address string) (*model.DeviceIdentity, error) {
	canonical, ok := NormalizeAddress(address)
	if !ok {
		return nil, errors.Wrap(ErrNotFound, address)
	}

	for _, ident := range f.identities {
		if c, ok := NormalizeAddress(ident.HardwareAddress); ok && c == canonical {
			found := ident
			return &found, nil
		}
	}

	return nil, errors.Wrap(ErrNotFound, address)
}
