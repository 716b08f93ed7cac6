package bot

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nd-schmidt/pimonitor/internal/bus"
	"github.com/nd-schmidt/pimonitor/internal/chat"
	"github.com/nd-schmidt/pimonitor/internal/command"
	"github.com/nd-schmidt/pimonitor/internal/correlator"
	"github.com/nd-schmidt/pimonitor/internal/identity"
	"github.com/nd-schmidt/pimonitor/internal/model"
	"github.com/nd-schmidt/pimonitor/internal/worker"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]func(topic string, payload []byte)
	unsubscribed []string
	err          error
}

func (f *fakeSubscriber) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	if f.handlers == nil {
		f.handlers = map[string]func(string, []byte){}
	}

	f.handlers[topic] = handler

	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.handlers, topic)
	f.unsubscribed = append(f.unsubscribed, topic)

	return nil
}

func (f *fakeSubscriber) handler(topic string) func(string, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.handlers[topic]
}

type recordingPoster struct {
	mu       sync.Mutex
	messages []*chat.Message
}

func (p *recordingPoster) Post(_ context.Context, msg *chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, msg)

	return nil
}

func (p *recordingPoster) posted() []*chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*chat.Message{}, p.messages...)
}

func testBot(t *testing.T, subscriber Subscriber, publisher command.Publisher, poster chat.Poster, now func() time.Time) *Bot {
	t.Helper()

	table, err := identity.NewTable([]model.DeviceIdentity{{FleetID: "RPI-02", HardwareAddress: rpi02}})
	require.NoError(t, err)

	tracker := correlator.NewTracker(now)
	limiter := worker.NewLimiter(2)

	dispatcher := command.NewDispatcher(
		model.DefaultNamespace,
		command.NewVerbTable(command.DefaultVerbs()...),
		table,
		publisher,
		tracker,
		logrus.New(),
	)

	replies := correlator.NewHandler(
		correlator.New(correlator.WithClock(now)),
		table,
		tracker,
		poster,
		limiter,
		correlator.DefaultInlineLimit,
		logrus.New(),
	)

	return New(
		subscriber,
		bus.ReplyTopic(model.DefaultNamespace),
		NewSlashHandler(slashCommand, "", dispatcher, logrus.New()),
		replies,
		limiter,
		logrus.New(),
	)
}

func TestBotCommandRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ctrl := gomock.NewController(t)

	publisher := command.NewMockPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), "Schmidt/"+rpi02+"/config/ping", []byte("hi")).Return(nil)

	subscriber := &fakeSubscriber{}
	poster := &recordingPoster{}

	b := testBot(t, subscriber, publisher, poster, clock)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- b.Serve(ctx, listener)
	}()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	form := url.Values{"command": {slashCommand}, "text": {"ping RPI-02 hi"}}

	var resp *http.Response

	require.Eventually(t, func() bool {
		resp, err = client.Post(
			"http://"+listener.Addr().String()+DefaultCommandPath,
			"application/x-www-form-urlencoded",
			strings.NewReader(form.Encode()),
		)

		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	handler := subscriber.handler("Schmidt/+/report/config/#")
	require.NotNil(t, handler)

	handler(
		"Schmidt/"+rpi02+"/report/config/ping",
		[]byte(`{"mac":"d8:3a:dd:5c:e1:94","timestamp":"2024-05-01T11:59:30Z","type":"ping","result":"success","out":{"pong":"hi"}}`),
	)

	cancel()
	require.NoError(t, <-done)

	messages := poster.posted()
	require.Len(t, messages, 1)
	assert.Equal(t, "RPI-02", messages[0].Username)
	assert.Equal(t, []chat.Block{chat.Section("```Pong: hi```")}, messages[0].Blocks)

	assert.Equal(t, []string{"Schmidt/+/report/config/#"}, subscriber.unsubscribed)
}

func TestBotSubscribeError(t *testing.T) {
	ctrl := gomock.NewController(t)

	subscriber := &fakeSubscriber{err: errors.New("not connected")}
	b := testBot(t, subscriber, command.NewMockPublisher(ctrl), &recordingPoster{}, time.Now)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	err = b.Serve(context.Background(), listener)
	assert.EqualError(t, err, "not connected")
}
