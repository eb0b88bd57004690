// Package discord implements the telegraph Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/muster/internal/telegraph"
	"go.uber.org/zap"
)

// maxRestRetries bounds discordgo's own retries of rate-limited requests.
const maxRestRetries = 3

// gateway abstracts the discordgo.Session methods we use, enabling test mocks.
type gateway interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Adapter implements telegraph.Adapter and telegraph.DirectMessenger for
// Discord via the Gateway WebSocket.
type Adapter struct {
	gw         gateway
	botToken   string
	channelID  string // default channel for announcements
	guildID    string // when set, messages from other guilds are ignored
	botUserID  string
	logger     *zap.Logger
	mu         sync.Mutex
	connected  bool
	listening  bool
	closed     bool
	inbound    chan telegraph.InboundMessage
	done       chan struct{}
	handlers   sync.WaitGroup // in-flight message handlers
	dmChannels map[string]string // user ID -> DM channel ID
	unsubs     []func()
}

var (
	_ telegraph.Adapter         = (*Adapter)(nil)
	_ telegraph.DirectMessenger = (*Adapter)(nil)
	_ telegraph.BotUserIDer     = (*Adapter)(nil)
)

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string // Discord bot token
	ChannelID string // default channel to post to
	GuildID   string // optional guild restriction
	Logger    *zap.Logger
	// For testing: inject a mock gateway instead of contacting Discord.
	Gateway gateway
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Gateway == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		gw:         opts.Gateway,
		botToken:   opts.BotToken,
		channelID:  opts.ChannelID,
		guildID:    opts.GuildID,
		logger:     logger,
		inbound:    make(chan telegraph.InboundMessage, 100),
		done:       make(chan struct{}),
		dmChannels: make(map[string]string),
	}, nil
}

// Connect opens the Gateway connection. The bot's user ID arrives with the
// Ready event.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.gw == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		dg.ShouldRetryOnRateLimit = true
		dg.MaxRestRetries = maxRestRetries
		a.gw = dg
	}

	a.unsubs = append(a.unsubs,
		a.gw.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			a.SetBotUserID(r.User.ID)
			a.logger.Info("connected", zap.String("user", r.User.Username), zap.String("user_id", r.User.ID))
		}),
		a.gw.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			a.logger.Warn("gateway disconnected")
		}),
	)

	if err := a.gw.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// Listen registers the message handler and returns the inbound channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	if !a.listening {
		a.unsubs = append(a.unsubs, a.gw.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.onMessage(m)
		}))
		a.listening = true
	}
	return a.inbound, nil
}

// onMessage runs on discordgo's event goroutine. Close waits for in-flight
// calls before closing the inbound channel.
func (a *Adapter) onMessage(m *discordgo.MessageCreate) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.handlers.Add(1)
	a.mu.Unlock()
	defer a.handlers.Done()

	msg, ok := a.convert(m)
	if !ok {
		return
	}
	select {
	case a.inbound <- msg:
	case <-a.done:
	}
}

// convert turns a MessageCreate into an InboundMessage. Bot authors, the
// bot itself and foreign guilds are dropped; DMs carry no guild.
func (a *Adapter) convert(m *discordgo.MessageCreate) (telegraph.InboundMessage, bool) {
	if m.Message == nil || m.Author == nil || m.Author.Bot || m.Content == "" {
		return telegraph.InboundMessage{}, false
	}
	if m.Author.ID == a.BotUserID() {
		return telegraph.InboundMessage{}, false
	}
	if a.guildID != "" && m.GuildID != "" && m.GuildID != a.guildID {
		return telegraph.InboundMessage{}, false
	}

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts, _ = discordgo.SnowflakeTimestamp(m.ID)
	}

	// Threads are channels in Discord, so replying to ChannelID stays in
	// the thread.
	return telegraph.InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  name,
		Text:      m.Content,
		Timestamp: ts,
	}, true
}

// Send posts a message to a channel. Event cards become embeds.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("discord: not connected")
	}
	target := msg.ThreadID
	if target == "" {
		target = msg.ChannelID
	}
	if target == "" {
		target = a.channelID
	}
	if target == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	if _, err := a.gw.ChannelMessageSendComplex(target, messageSend(msg), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// SendDirect delivers text to userID through their DM channel, opening it on
// first use.
func (a *Adapter) SendDirect(ctx context.Context, userID, text string) error {
	if !a.isConnected() {
		return fmt.Errorf("discord: not connected")
	}
	channelID, err := a.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := a.gw.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: text}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send direct message: %w", err)
	}
	return nil
}

// dmChannel returns the cached DM channel for userID or creates it.
func (a *Adapter) dmChannel(ctx context.Context, userID string) (string, error) {
	a.mu.Lock()
	id, ok := a.dmChannels[userID]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	ch, err := a.gw.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: open DM channel for %s: %w", userID, err)
	}
	a.mu.Lock()
	a.dmChannels[userID] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

// Close removes the handlers, waits for in-flight messages, closes the
// inbound channel and then the gateway.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	unsubs := a.unsubs
	a.unsubs = nil
	a.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	close(a.done)
	a.handlers.Wait()
	close(a.inbound)

	if a.gw != nil {
		return a.gw.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after the Ready event).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID used for self-message filtering.
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// messageSend renders msg as content plus one embed per event card.
func messageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: msg.Text}
	for _, evt := range msg.Events {
		embed := &discordgo.MessageEmbed{
			Title:       evt.Title,
			Description: evt.Body,
			Color:       embedColor(evt.Color),
		}
		for _, f := range evt.Fields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Short})
		}
		data.Embeds = append(data.Embeds, embed)
	}
	return data
}

// embedColor converts "#36a64f" to its integer value; anything unparsable
// is 0 (no color).
func embedColor(hex string) int {
	n, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 24)
	if err != nil {
		return 0
	}
	return int(n)
}
