package chat

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/nd-schmidt/pimonitor/internal/render"
)

// WebhookPoster posts messages to an incoming webhook URL.
//
// Webhooks cannot upload files, file content is posted as fenced text blocks
// headed by the file title.
type WebhookPoster struct {
	url        string
	httpClient *http.Client
	chunkLimit int
	logger     *logrus.Logger
}

// NewWebhookPoster returns a WebhookPoster, chunkLimit bounds the text blocks file
// content is split into.
func NewWebhookPoster(url string, chunkLimit int, httpClient *http.Client, logger *logrus.Logger) *WebhookPoster {
	if chunkLimit <= 0 {
		chunkLimit = render.DefaultChunkLimit
	}

	return &WebhookPoster{
		url:        url,
		httpClient: httpClient,
		chunkLimit: chunkLimit,
		logger:     logger,
	}
}

// Post delivers the message, each block is posted separately.
func (w *WebhookPoster) Post(ctx context.Context, msg *Message) error {
	blocks := msg.Blocks
	if msg.File != nil {
		blocks = []Block{Section(msg.File.Title)}
		for _, chunk := range render.FencedChunks(msg.File.Content, w.chunkLimit) {
			blocks = append(blocks, Section(chunk))
		}
	}

	for _, block := range blocks {
		err := observe("webhook", func() error {
			return slack.PostWebhookCustomHTTPContext(ctx, w.url, w.httpClient, &slack.WebhookMessage{
				Username: msg.Username,
				Blocks:   &slack.Blocks{BlockSet: SlackBlocks([]Block{block})},
			})
		})
		if err != nil {
			return errors.Wrap(ErrPost, err.Error())
		}
	}

	w.logger.WithFields(logrus.Fields{"blocks": len(blocks), "username": msg.Username}).Debug("posted to webhook")

	return nil
}
