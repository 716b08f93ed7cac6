package identity

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nd-schmidt/pimonitor/internal/model"
)

const (
	DefaultBucket = "pimonitor-devices"
)

// NATSDirectory is a remote identity directory held in a NATS JetStream KV bucket.
//
// Each key is a fleet identifier, each value a JSON encoded model.DeviceIdentity.
type NATSDirectory struct {
	kv     jetstream.KeyValue
	logger *logrus.Logger
}

// NewNATSDirectory binds to an existing KV bucket, the directory is only read.
func NewNATSDirectory(ctx context.Context, nc *nats.Conn, bucket string, logger *logrus.Logger) (*NATSDirectory, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.Wrap(ErrDirectory, err.Error())
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		return nil, errors.Wrap(ErrDirectory, "bucket "+bucket+": "+err.Error())
	}

	return &NATSDirectory{kv: kv, logger: logger}, nil
}

// List implements the Directory interface.
func (d *NATSDirectory) List(ctx context.Context) ([]model.DeviceIdentity, error) {
	keys, err := d.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []model.DeviceIdentity{}, nil
		}

		return nil, errors.Wrap(ErrDirectory, err.Error())
	}

	identities := make([]model.DeviceIdentity, 0, len(keys))

	for _, key := range keys {
		ident, err := d.get(ctx, key)
		if err != nil {
			// entries deleted between the key listing and the get are skipped
			d.logger.WithError(err).WithField("key", key).Warn("skipped device identity entry")
			continue
		}

		identities = append(identities, *ident)
	}

	return identities, nil
}

// ByID implements the Directory interface.
func (d *NATSDirectory) ByID(ctx context.Context, fleetID string) (*model.DeviceIdentity, error) {
	return d.get(ctx, fleetID)
}

// ByAddress implements the Directory interface.
//
// The bucket is keyed on fleet identifier so this lists the bucket.
func (d *NATSDirectory) ByAddress(ctx context.Context, address string) (*model.DeviceIdentity, error) {
	canonical, ok := NormalizeAddress(address)
	if !ok {
		return nil, errors.Wrap(ErrNotFound, address)
	}

	identities, err := d.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, ident := range identities {
		if c, ok := NormalizeAddress(ident.HardwareAddress); ok && c == canonical {
			found := ident
			return &found, nil
		}
	}

	return nil, errors.Wrap(ErrNotFound, address)
}

func (d *NATSDirectory) get(ctx context.Context, key string) (*model.DeviceIdentity, error) {
	entry, err := d.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.Wrap(ErrNotFound, key)
		}

		return nil, errors.Wrap(ErrDirectory, err.Error())
	}

	ident := &model.DeviceIdentity{}
	if err := json.Unmarshal(entry.Value(), ident); err != nil {
		return nil, errors.Wrap(ErrDirectory, key+": "+err.Error())
	}

	if ident.FleetID == "" {
		ident.FleetID = key
	}

	return ident, nil
}
