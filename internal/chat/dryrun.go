package chat

import (
	"context"

	"github.com/sirupsen/logrus"
)

// DryRunPoster logs messages instead of delivering them, used in experimental mode.
type DryRunPoster struct {
	logger *logrus.Logger
}

func NewDryRunPoster(logger *logrus.Logger) *DryRunPoster {
	return &DryRunPoster{logger: logger}
}

func (d *DryRunPoster) Post(_ context.Context, msg *Message) error {
	le := d.logger.WithFields(logrus.Fields{"username": msg.Username, "dryrun": true})

	if msg.File != nil {
		le.WithFields(logrus.Fields{
			"filename": msg.File.Filename,
			"title":    msg.File.Title,
			"bytes":    len(msg.File.Content),
		}).Info("file upload skipped")

		return nil
	}

	for _, b := range msg.Blocks {
		le.WithField("kind", b.Kind).Info(b.Text)
	}

	return nil
}
