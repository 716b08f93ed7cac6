package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/nd-schmidt/pimonitor/internal/metrics"
)

const (
	fileType = "text"
)

// SlackOptions holds the bot token delivery parameters.
type SlackOptions struct {
	Token   string
	Channel string
	// APIURL overrides the Slack API endpoint, the default is used when empty.
	APIURL string
}

// SlackPoster posts messages and uploads files with a Slack bot token.
type SlackPoster struct {
	api     *slack.Client
	channel string
	logger  *logrus.Logger
}

// NewSlackPoster returns a SlackPoster posting to the configured channel.
func NewSlackPoster(opts SlackOptions, httpClient *http.Client, logger *logrus.Logger) *SlackPoster {
	options := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if opts.APIURL != "" {
		options = append(options, slack.OptionAPIURL(opts.APIURL))
	}

	return &SlackPoster{
		api:     slack.New(opts.Token, options...),
		channel: opts.Channel,
		logger:  logger,
	}
}

// Post delivers the message, a message with a file is uploaded and its blocks are ignored.
func (s *SlackPoster) Post(ctx context.Context, msg *Message) error {
	le := s.logger.WithFields(logrus.Fields{"channel": s.channel, "username": msg.Username})

	if msg.File != nil {
		return observe("file", func() error {
			_, err := s.api.UploadFileContext(ctx, slack.FileUploadParameters{
				Content:  msg.File.Content,
				Filename: msg.File.Filename,
				Filetype: fileType,
				Title:    msg.File.Title,
				Channels: []string{s.channel},
			})
			if err != nil {
				return errors.Wrap(ErrUpload, err.Error())
			}

			le.WithField("filename", msg.File.Filename).Info("uploaded file")

			return nil
		})
	}

	options := []slack.MsgOption{slack.MsgOptionBlocks(SlackBlocks(msg.Blocks)...)}
	if msg.Username != "" {
		options = append(options, slack.MsgOptionUsername(msg.Username))
	}

	return observe("blocks", func() error {
		_, ts, err := s.api.PostMessageContext(ctx, s.channel, options...)
		if err != nil {
			return errors.Wrap(ErrPost, err.Error())
		}

		le.WithFields(logrus.Fields{"ts": ts, "blocks": len(msg.Blocks)}).Debug("posted message")

		return nil
	})
}

// SlackBlocks converts message blocks into Slack layout blocks.
func SlackBlocks(blocks []Block) []slack.Block {
	out := make([]slack.Block, 0, len(blocks))

	for _, b := range blocks {
		switch b.Kind {
		case KindHeader:
			out = append(out, slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, b.Text, false, false)))
		default:
			out = append(out, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, b.Text, false, false), nil, nil))
		}
	}

	return out
}

// observe records the outcome and duration of a chat delivery.
func observe(kind string, f func() error) error {
	started := time.Now()

	err := f()

	status := "ok"
	if err != nil {
		status = "error"
	}

	metrics.ChatPostsCounter.WithLabelValues(kind, status).Inc()
	metrics.ChatPostRunTimeSummary.WithLabelValues(kind).Observe(time.Since(started).Seconds())

	return err
}
