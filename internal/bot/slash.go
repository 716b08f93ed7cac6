package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/nd-schmidt/pimonitor/internal/chat"
	"github.com/nd-schmidt/pimonitor/internal/command"
)

const (
	helpHeader = "List of commands"

	maxBodyBytes = 1 << 16
)

var (
	ErrVerification = errors.New("slash command verification failed")
)

// SlashHandler serves the slash command endpoint, it acknowledges every accepted
// command immediately, the device reply is delivered to the channel asynchronously.
type SlashHandler struct {
	command       string
	signingSecret string
	dispatcher    *command.Dispatcher
	logger        *logrus.Logger
}

// NewSlashHandler returns a SlashHandler for the given slash command, requests are
// not verified when signingSecret is empty.
func NewSlashHandler(slashCommand, signingSecret string, dispatcher *command.Dispatcher, logger *logrus.Logger) *SlashHandler {
	return &SlashHandler{
		command:       slashCommand,
		signingSecret: signingSecret,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

func (h *SlashHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	cmd, err := h.parse(r)
	if err != nil {
		h.logger.WithError(err).Warn("rejected slash command request")

		if errors.Is(err, ErrVerification) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.WriteHeader(http.StatusBadRequest)

		return
	}

	if cmd.Command != h.command {
		h.logger.WithField("command", cmd.Command).Warn("slash command not handled here")
		w.WriteHeader(http.StatusNotFound)

		return
	}

	h.logger.WithFields(logrus.Fields{"user": cmd.UserName, "text": cmd.Text}).Debug("slash command")

	h.respond(w, h.Handle(r.Context(), cmd.Text))
}

func (h *SlashHandler) parse(r *http.Request) (slack.SlashCommand, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return slack.SlashCommand{}, err
	}

	if h.signingSecret != "" {
		verifier, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
		if err != nil {
			return slack.SlashCommand{}, errors.Wrap(ErrVerification, err.Error())
		}

		if _, err := verifier.Write(body); err != nil {
			return slack.SlashCommand{}, errors.Wrap(ErrVerification, err.Error())
		}

		if err := verifier.Ensure(); err != nil {
			return slack.SlashCommand{}, errors.Wrap(ErrVerification, err.Error())
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))

	return slack.SlashCommandParse(r)
}

func (h *SlashHandler) respond(w http.ResponseWriter, msg *slack.Msg) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(msg); err != nil {
		h.logger.WithError(err).Warn("slash command response write error")
	}
}

// Handle dispatches the slash command text and returns the operator acknowledgment.
func (h *SlashHandler) Handle(ctx context.Context, text string) *slack.Msg {
	req, err := command.ParseRequest(text)
	if err != nil {
		return ephemeral(h.usage())
	}

	if req.Verb == command.VerbHelp {
		return &slack.Msg{
			ResponseType: slack.ResponseTypeEphemeral,
			Blocks: slack.Blocks{BlockSet: chat.SlackBlocks([]chat.Block{
				chat.Header(helpHeader),
				chat.Section(h.dispatcher.Verbs().Help(h.command)),
			})},
		}
	}

	le := h.logger.WithFields(logrus.Fields{"verb": req.Verb, "fleetID": req.FleetID})

	if _, err := h.dispatcher.Dispatch(ctx, req); err != nil {
		le.WithError(err).Warn("command not sent")

		switch {
		case errors.Is(err, command.ErrUnknownDevice):
			return ephemeral(fmt.Sprintf("Error: %s is invalid!", req.FleetID))
		case errors.Is(err, command.ErrUnknownVerb):
			return ephemeral(fmt.Sprintf("Error: %s is not a command, try `%s help`", req.Verb, h.command))
		case errors.Is(err, command.ErrInvalidArgument):
			return ephemeral(fmt.Sprintf("Error: invalid arguments for %s", req.Verb))
		default:
			return ephemeral(fmt.Sprintf("Error: failed sending %s command to %s", req.Verb, req.FleetID))
		}
	}

	return ephemeral(fmt.Sprintf("Sending %s command to %s...", req.Verb, req.FleetID))
}

func (h *SlashHandler) usage() string {
	return fmt.Sprintf("Usage: `%s <command> RPI-ID [args]`, try `%s help`", h.command, h.command)
}

func ephemeral(text string) *slack.Msg {
	return &slack.Msg{ResponseType: slack.ResponseTypeEphemeral, Text: text}
}
