// Package slack implements the telegraph Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/muster/internal/telegraph"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// defaultRetryAfter is used when Slack rate limits without a hint.
	defaultRetryAfter = time.Second
	// restartDelay is the first wait before restarting a stopped socket.
	restartDelay = 2 * time.Second
	// maxRestartDelay caps the doubling restart wait.
	maxRestartDelay = 2 * time.Minute
)

// webAPI abstracts the Slack Web API methods we use, enabling test mocks.
type webAPI interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
}

// eventSocket abstracts the Socket Mode connection.
type eventSocket interface {
	RunContext(ctx context.Context) error
	Events() <-chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// modeSocket adapts *socketmode.Client to eventSocket.
type modeSocket struct {
	client *socketmode.Client
}

func (s modeSocket) RunContext(ctx context.Context) error { return s.client.RunContext(ctx) }
func (s modeSocket) Events() <-chan socketmode.Event      { return s.client.Events }
func (s modeSocket) Ack(req socketmode.Request, payload ...interface{}) {
	s.client.Ack(req, payload...)
}

// Adapter implements telegraph.Adapter and telegraph.DirectMessenger for
// Slack Socket Mode.
type Adapter struct {
	api        webAPI
	socket     eventSocket
	appToken   string
	botToken   string
	channelID  string // default channel for announcements
	botUserID  string
	logger     *zap.Logger
	names      map[string]string // user ID -> display name
	mu         sync.Mutex
	connected  bool
	listening  bool
	closed     bool
	inbound    chan telegraph.InboundMessage
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	retryAfter time.Duration
	restart    time.Duration
	maxRestart time.Duration
}

var (
	_ telegraph.Adapter         = (*Adapter)(nil)
	_ telegraph.DirectMessenger = (*Adapter)(nil)
	_ telegraph.BotUserIDer     = (*Adapter)(nil)
)

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken  string // xapp-... app-level token for Socket Mode
	BotToken  string // xoxb-... bot token
	ChannelID string // default channel to post to
	Logger    *zap.Logger
	// For testing: inject mocks instead of contacting Slack.
	API    webAPI
	Socket eventSocket
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.API == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		api:        opts.API,
		socket:     opts.Socket,
		appToken:   opts.AppToken,
		botToken:   opts.BotToken,
		channelID:  opts.ChannelID,
		logger:     logger,
		names:      make(map[string]string),
		inbound:    make(chan telegraph.InboundMessage, 100),
		retryAfter: defaultRetryAfter,
		restart:    restartDelay,
		maxRestart: maxRestartDelay,
	}, nil
}

// Connect authenticates the bot token and records the bot's own user ID.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.api == nil {
		client := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.api = client
		if a.socket == nil {
			a.socket = modeSocket{client: socketmode.New(client)}
		}
	}

	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.logger.Info("connected", zap.String("team", auth.Team), zap.String("user_id", auth.UserID))

	a.connected = true
	return nil
}

// Listen starts the Socket Mode connection and returns a channel of
// inbound messages. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}
	if a.listening {
		return a.inbound, nil
	}
	if a.socket == nil {
		return nil, fmt.Errorf("slack: socket mode is not configured")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.listening = true
	a.wg.Add(2)
	go a.run(runCtx)
	go a.pump(runCtx)
	return a.inbound, nil
}

// run keeps the socket connected, restarting it with a doubling delay
// whenever it stops before the adapter is closed.
func (a *Adapter) run(ctx context.Context) {
	defer a.wg.Done()
	delay := a.restart
	for {
		err := a.socket.RunContext(ctx)
		if ctx.Err() != nil {
			return
		}
		a.logger.Warn("socket mode stopped", zap.Duration("restart_in", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, a.maxRestart)
	}
}

// pump forwards converted socket events until the adapter is closed.
func (a *Adapter) pump(ctx context.Context) {
	defer a.wg.Done()
	events := a.socket.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			msg, ok := a.convert(ctx, evt)
			if !ok {
				continue
			}
			select {
			case a.inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// callback is the text of a message or app_mention event.
type callback struct {
	channel, thread, user, text, ts string
}

// convert acknowledges an Events API envelope and turns its message into an
// InboundMessage. Connection lifecycle events are only logged.
func (a *Adapter) convert(ctx context.Context, evt socketmode.Event) (telegraph.InboundMessage, bool) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
	case socketmode.EventTypeConnected:
		a.logger.Info("socket mode connected")
		return telegraph.InboundMessage{}, false
	case socketmode.EventTypeConnectionError:
		a.logger.Warn("socket mode connection error", zap.Any("data", evt.Data))
		return telegraph.InboundMessage{}, false
	default:
		return telegraph.InboundMessage{}, false
	}

	envelope, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return telegraph.InboundMessage{}, false
	}
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}
	if envelope.Type != slackevents.CallbackEvent {
		return telegraph.InboundMessage{}, false
	}

	var p callback
	switch ev := envelope.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Edits, joins and other subtypes are not commands.
		if ev.BotID != "" || ev.SubType != "" {
			return telegraph.InboundMessage{}, false
		}
		// A channel message mentioning the bot is also delivered as an
		// app_mention; that copy is the one kept.
		if ev.ChannelType != "im" && a.mentionsBot(ev.Text) {
			return telegraph.InboundMessage{}, false
		}
		p = callback{ev.Channel, ev.ThreadTimeStamp, ev.User, ev.Text, ev.TimeStamp}
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" {
			return telegraph.InboundMessage{}, false
		}
		p = callback{ev.Channel, ev.ThreadTimeStamp, ev.User, ev.Text, ev.TimeStamp}
	default:
		return telegraph.InboundMessage{}, false
	}
	if p.user == "" || p.text == "" || p.user == a.BotUserID() {
		return telegraph.InboundMessage{}, false
	}

	return telegraph.InboundMessage{
		Platform:  "slack",
		ChannelID: p.channel,
		ThreadID:  p.thread,
		UserID:    p.user,
		UserName:  a.userName(ctx, p.user),
		Text:      p.text,
		Timestamp: slackTime(p.ts),
	}, true
}

func (a *Adapter) mentionsBot(text string) bool {
	id := a.BotUserID()
	return id != "" && strings.Contains(text, "<@"+id+">")
}

// userName returns the user's display name, then real name, then ID.
// Successful lookups are cached for the life of the adapter.
func (a *Adapter) userName(ctx context.Context, userID string) string {
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		a.logger.Debug("user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return userID
	}
	name = user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}
	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

// Send posts a message to a channel. Event cards become attachments.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("slack: not connected")
	}
	target := msg.ChannelID
	if target == "" {
		target = a.channelID
	}
	if target == "" {
		return fmt.Errorf("slack: no channel specified")
	}
	if err := a.post(ctx, target, messageOptions(msg)...); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// SendDirect posts text to the bot's conversation with userID;
// chat.postMessage accepts a user ID as the channel.
func (a *Adapter) SendDirect(ctx context.Context, userID, text string) error {
	if !a.isConnected() {
		return fmt.Errorf("slack: not connected")
	}
	if userID == "" {
		return fmt.Errorf("slack: no user specified")
	}
	if err := a.post(ctx, userID, slackapi.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: direct message: %w", err)
	}
	return nil
}

// post calls chat.postMessage, waiting out rate limits up to maxRetries
// times.
func (a *Adapter) post(ctx context.Context, channel string, options ...slackapi.MsgOption) error {
	for attempt := 0; ; attempt++ {
		_, _, err := a.api.PostMessageContext(ctx, channel, options...)
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = a.retryAfter
		}
		a.logger.Warn("rate limited",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close stops the socket, waits for the event pump and closes the inbound
// channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// messageOptions renders msg as text, an optional thread and one
// attachment per event card.
func messageOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if msg.ThreadID != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ThreadID))
	}
	if len(msg.Events) > 0 {
		attachments := make([]slackapi.Attachment, 0, len(msg.Events))
		for _, evt := range msg.Events {
			attachments = append(attachments, attachment(evt))
		}
		options = append(options, slackapi.MsgOptionAttachments(attachments...))
	}
	return options
}

func attachment(evt telegraph.FormattedEvent) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color,
		Fallback: evt.Title,
	}
	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Short})
	}
	return att
}

// slackTime parses a message ts ("1700000000.123456", microseconds after
// the dot).
func slackTime(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var us int64
	if frac != "" {
		us, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, us*int64(time.Microsecond))
}
