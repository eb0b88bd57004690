// Package telegram implements the telegraph Adapter for Telegram using Bot
// API long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/muster/internal/telegraph"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// defaultRetryAfter is used when Telegram rate limits without a hint.
	defaultRetryAfter = time.Second
	// defaultPollTimeout is the long-polling timeout in seconds.
	defaultPollTimeout = 60
)

// botAPI abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// Adapter implements telegraph.Adapter and telegraph.DirectMessenger for
// Telegram.
type Adapter struct {
	api         botAPI
	botToken    string
	chatID      string // default chat for announcements
	pollTimeout int
	botUserID   string
	logger      *zap.Logger
	mu          sync.Mutex
	connected   bool
	listening   bool
	closed      bool
	inbound     chan telegraph.InboundMessage
	cancel      context.CancelFunc
	done        chan struct{}
	retryAfter  time.Duration
}

var (
	_ telegraph.Adapter         = (*Adapter)(nil)
	_ telegraph.DirectMessenger = (*Adapter)(nil)
	_ telegraph.BotUserIDer     = (*Adapter)(nil)
)

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	BotToken       string // from @BotFather
	ChatID         string // default chat to post to
	PollTimeoutSec int
	Logger         *zap.Logger
	// For testing: inject a mock API and the bot's identity instead of
	// contacting Telegram.
	API  botAPI
	Self tgbotapi.User
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.API == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.PollTimeoutSec
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	a := &Adapter{
		api:         opts.API,
		botToken:    opts.BotToken,
		chatID:      opts.ChatID,
		pollTimeout: timeout,
		logger:      logger,
		inbound:     make(chan telegraph.InboundMessage, 100),
		retryAfter:  defaultRetryAfter,
	}
	if opts.API != nil && opts.Self.ID != 0 {
		a.botUserID = strconv.FormatInt(opts.Self.ID, 10)
	}
	return a, nil
}

// Connect authenticates the bot token. NewBotAPI calls getMe, which also
// yields the bot's own user ID.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.api == nil {
		bot, err := tgbotapi.NewBotAPI(a.botToken)
		if err != nil {
			return fmt.Errorf("telegram: authenticate: %w", err)
		}
		a.api = bot
		a.botUserID = strconv.FormatInt(bot.Self.ID, 10)
		a.logger.Info("connected", zap.String("user", bot.Self.UserName), zap.String("user_id", a.botUserID))
	}

	a.connected = true
	return nil
}

// Listen starts long polling and returns a channel of inbound messages.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("telegram: not connected")
	}
	if a.listening {
		return a.inbound, nil
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = a.pollTimeout
	updates := a.api.GetUpdatesChan(cfg)

	pollCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.listening = true
	go a.poll(pollCtx, updates)
	return a.inbound, nil
}

// poll forwards updates until the adapter is closed.
func (a *Adapter) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg, ok := a.convert(update)
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

// convert turns an update into an InboundMessage. Only text messages from
// humans are kept.
func (a *Adapter) convert(update tgbotapi.Update) (telegraph.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return telegraph.InboundMessage{}, false
	}
	if m.From.IsBot {
		return telegraph.InboundMessage{}, false
	}
	userID := strconv.FormatInt(m.From.ID, 10)
	if userID == a.BotUserID() {
		return telegraph.InboundMessage{}, false
	}

	return telegraph.InboundMessage{
		Platform:  "telegram",
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		UserID:    userID,
		UserName:  displayName(m.From),
		Text:      m.Text,
		Timestamp: m.Time(),
	}, true
}

// displayName prefers the user's first and last name over the @username.
func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return u.UserName
	}
	return strconv.FormatInt(u.ID, 10)
}

// Send delivers a message to a Telegram chat. Event cards are rendered as
// plain text below the message text.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("telegram: not connected")
	}

	target := msg.ChannelID
	if target == "" {
		target = a.chatID
	}
	if target == "" {
		return fmt.Errorf("telegram: no chat specified")
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", target, err)
	}

	out := tgbotapi.NewMessage(chatID, renderText(msg))
	if msg.ThreadID != "" {
		if replyTo, err := strconv.Atoi(msg.ThreadID); err == nil {
			out.ReplyToMessageID = replyTo
		}
	}
	if err := a.send(ctx, out); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// SendDirect delivers text to userID's private chat. In Telegram the
// private chat ID equals the user ID. It fails until the user has started a
// conversation with the bot.
func (a *Adapter) SendDirect(ctx context.Context, userID, text string) error {
	if !a.isConnected() {
		return fmt.Errorf("telegram: not connected")
	}
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid user id %q: %w", userID, err)
	}
	if err := a.send(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send direct message: %w", err)
	}
	return nil
}

// send calls the API, waiting out 429 responses up to maxRetries times.
func (a *Adapter) send(ctx context.Context, c tgbotapi.Chattable) error {
	for attempt := 0; ; attempt++ {
		_, err := a.api.Send(c)
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != 429 || attempt == maxRetries {
			return err
		}

		wait := a.retryAfter
		if apiErr.RetryAfter > 0 {
			wait = time.Duration(apiErr.RetryAfter) * time.Second
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

// Close stops polling and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	cancel, done := a.cancel, a.done
	api := a.api
	a.mu.Unlock()

	if cancel != nil {
		api.StopReceivingUpdates()
		cancel()
		<-done
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Telegram user ID (available after Connect).
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

// renderText flattens msg and its event cards into one plain-text body.
func renderText(msg telegraph.OutboundMessage) string {
	var b strings.Builder
	b.WriteString(msg.Text)
	for _, evt := range msg.Events {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(renderEvent(evt))
	}
	return b.String()
}

// renderEvent renders a card as a title line, the body, then one block per
// field.
func renderEvent(evt telegraph.FormattedEvent) string {
	var parts []string
	if evt.Title != "" {
		parts = append(parts, "📋 "+evt.Title)
	}
	if evt.Body != "" {
		parts = append(parts, evt.Body)
	}
	for _, f := range evt.Fields {
		parts = append(parts, f.Name+":\n"+f.Value)
	}
	return strings.Join(parts, "\n\n")
}
