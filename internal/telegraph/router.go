package telegraph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zulandar/muster/internal/creation"
	"github.com/zulandar/muster/internal/models"
	"github.com/zulandar/muster/internal/session"
	"go.uber.org/zap"
)

// DefaultCommandPrefix introduces every chat command ("/join 3").
const DefaultCommandPrefix = "/"

// Core is the slice of the coordinator the router drives.
type Core interface {
	HandleCreateStart(userID, userName string) creation.Reply
	HandleCreateInput(ctx context.Context, userID, text string) (creation.Reply, error)
	HandleCreateCancel(userID string) bool
	CreationActive(userID string) bool
	HandleJoin(ctx context.Context, sessionID int64, userID, userName string) error
	HandleLeave(ctx context.Context, sessionID int64, userID string) (session.LeaveResult, error)
	HandleDelete(ctx context.Context, sessionID int64, userID string) error
	ListOpenSessions() []*models.Session
	ListGatheredSessions() []*models.Session
	ListMySessions(userID string) []*models.Session
	GetSession(id int64) (*models.Session, error)
	FindSessionByTitleFragment(text string) (*models.Session, error)
	FlushNotifications(userID string) []models.Notification
	PendingNotifications(userID string) int
}

// Router turns inbound chat messages into Core calls and replies in the
// channel the message came from.
type Router struct {
	core      Core
	adapter   Adapter
	prefix    string
	botUserID string // the bot's own user ID (to filter self-messages)
	logger    *zap.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Core      Core
	Adapter   Adapter
	Prefix    string // defaults to DefaultCommandPrefix
	BotUserID string // bot's user ID for self-message filtering
	Logger    *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Core == nil {
		return nil, fmt.Errorf("telegraph: router: core is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: router: adapter is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		core:      opts.Core,
		adapter:   opts.Adapter,
		prefix:    prefix,
		botUserID: opts.BotUserID,
		logger:    logger,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. Command ("/join 3", or "@bot join 3") → command handler
//  3. Plain text with a creation flow in progress → creation input
//  4. Everything else → ignore
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	r.logger.Debug("recv",
		zap.String("channel_id", msg.ChannelID),
		zap.String("user_id", msg.UserID),
		zap.String("text", truncateRunes(text, 80)),
	)

	// During creation only known commands interrupt the flow; a title
	// such as "/Chess" is flow input.
	creating := r.core.CreationActive(msg.UserID)
	if cmd, ok := r.parseCommand(text); ok && (!creating || knownCommands[cmd.name]) {
		r.reply(ctx, msg, r.execute(ctx, msg, cmd))
		return
	}

	if creating {
		r.reply(ctx, msg, r.creationInput(ctx, msg, text))
		return
	}

	r.logger.Debug("ignored message", zap.String("user_id", msg.UserID))
}

// command is a parsed chat command: its name and the raw argument text.
type command struct {
	name string
	arg  string
}

// mentionRe matches user mentions: Discord <@123> or <@!123>, Slack <@U123>.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9]+>`)

// knownCommands is the set of commands execute understands.
var knownCommands = map[string]bool{
	"start":         true,
	"help":          true,
	"create":        true,
	"cancel":        true,
	"list":          true,
	"gathered":      true,
	"mine":          true,
	"show":          true,
	"join":          true,
	"leave":         true,
	"delete":        true,
	"notifications": true,
}

// parseCommand recognizes "<prefix>name args" and a bot mention followed by
// a known command name. Telegram-style "/join@musterbot 3" suffixes are
// stripped from the name.
func (r *Router) parseCommand(text string) (command, bool) {
	if strings.HasPrefix(text, r.prefix) {
		body := strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
		if body == "" {
			return command{}, false
		}
		name, arg := splitCommand(body)
		return command{name: name, arg: arg}, true
	}

	stripped := strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
	if stripped == "" || stripped == text {
		return command{}, false
	}
	name, arg := splitCommand(strings.TrimPrefix(stripped, r.prefix))
	if !knownCommands[name] {
		return command{}, false
	}
	return command{name: name, arg: arg}, true
}

func splitCommand(body string) (name, arg string) {
	fields := strings.SplitN(body, " ", 2)
	name = strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}
	return name, arg
}

// execute runs a command and returns the reply text.
func (r *Router) execute(ctx context.Context, msg InboundMessage, cmd command) string {
	switch cmd.name {
	case "start":
		return r.greeting(msg)
	case "help":
		return r.helpText()
	case "create":
		return r.core.HandleCreateStart(msg.UserID, msg.UserName).Text
	case "cancel":
		if r.core.HandleCreateCancel(msg.UserID) {
			return "Session creation cancelled."
		}
		return "Nothing to cancel."
	case "list":
		return FormatSessionList("📋 Open sessions:", r.core.ListOpenSessions(), msg.UserID,
			fmt.Sprintf("No open sessions yet. Start one with %screate.", r.prefix))
	case "gathered":
		return FormatSessionList("🎉 Gathered sessions:", r.core.ListGatheredSessions(), msg.UserID,
			"No session has gathered yet.")
	case "mine":
		return FormatSessionList("🙋 Your sessions:", r.core.ListMySessions(msg.UserID), msg.UserID,
			"You are not in any session.")
	case "show":
		return r.withSession(cmd, func(s *models.Session) string {
			return FormatSessionDetail(s, msg.UserID)
		})
	case "join":
		return r.withSession(cmd, func(s *models.Session) string {
			return r.join(ctx, msg, s)
		})
	case "leave":
		return r.withSession(cmd, func(s *models.Session) string {
			return r.leave(ctx, msg, s)
		})
	case "delete":
		return r.withSession(cmd, func(s *models.Session) string {
			if err := r.core.HandleDelete(ctx, s.ID, msg.UserID); err != nil {
				return errorReply(err)
			}
			return fmt.Sprintf("🗑 Session #%d %s deleted.", s.ID, s.Title)
		})
	case "notifications":
		return FormatNotifications(r.core.FlushNotifications(msg.UserID))
	default:
		return fmt.Sprintf("Unknown command: %s%s\n\n%s", r.prefix, cmd.name, r.helpText())
	}
}

// withSession resolves the command argument to a session and runs fn on it.
func (r *Router) withSession(cmd command, fn func(*models.Session) string) string {
	if cmd.arg == "" {
		return fmt.Sprintf("Usage: %s%s <id or title>", r.prefix, cmd.name)
	}
	s, err := r.resolve(cmd.arg)
	if err != nil {
		return errorReply(err)
	}
	return fn(s)
}

// resolve addresses a session by numeric id ("3" or "#3"), falling back to
// a title fragment lookup for anything else.
func (r *Router) resolve(arg string) (*models.Session, error) {
	if id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64); err == nil {
		return r.core.GetSession(id)
	}
	return r.core.FindSessionByTitleFragment(arg)
}

func (r *Router) join(ctx context.Context, msg InboundMessage, s *models.Session) string {
	if err := r.core.HandleJoin(ctx, s.ID, msg.UserID, msg.UserName); err != nil {
		return errorReply(err)
	}
	after, err := r.core.GetSession(s.ID)
	if err != nil {
		return fmt.Sprintf("✅ You joined #%d %s.", s.ID, s.Title)
	}
	txt := fmt.Sprintf("✅ You joined #%d %s (%d/%d).", after.ID, after.Title, len(after.Members), after.Capacity)
	if after.Status == models.StatusGathered {
		txt += " The group is complete!"
	}
	return txt
}

func (r *Router) leave(ctx context.Context, msg InboundMessage, s *models.Session) string {
	res, err := r.core.HandleLeave(ctx, s.ID, msg.UserID)
	if err != nil {
		return errorReply(err)
	}
	if res == session.Cancelled {
		return fmt.Sprintf("🗑 You organized #%d %s, so it has been cancelled.", s.ID, s.Title)
	}
	return fmt.Sprintf("👋 You left #%d %s.", s.ID, s.Title)
}

// creationInput feeds plain text into the user's creation flow.
func (r *Router) creationInput(ctx context.Context, msg InboundMessage, text string) string {
	reply, err := r.core.HandleCreateInput(ctx, msg.UserID, text)
	if err != nil && !errors.Is(err, creation.ErrValidation) {
		r.logger.Warn("creation input", zap.String("user_id", msg.UserID), zap.Error(err))
		return errorReply(err)
	}
	return reply.Text
}

func (r *Router) greeting(msg InboundMessage) string {
	name := msg.UserName
	if name == "" {
		name = "there"
	}
	txt := fmt.Sprintf("👋 Hi %s! I help groups gather for a game.\n\n%s", name, r.helpText())
	if n := r.core.PendingNotifications(msg.UserID); n > 0 {
		txt += fmt.Sprintf("\n\n🔔 You have %d pending notification(s). Send %snotifications to read them.", n, r.prefix)
	}
	return txt
}

func (r *Router) helpText() string {
	p := r.prefix
	return strings.Join([]string{
		"Commands:",
		p + "create: organize a new session",
		p + "cancel: abandon the session you are creating",
		p + "list: open sessions",
		p + "gathered: sessions with every slot filled",
		p + "mine: sessions you are in",
		p + "show <id or title>: session details",
		p + "join <id or title>: take a slot",
		p + "leave <id or title>: give your slot back",
		p + "delete <id or title>: cancel a session you organized",
		p + "notifications: read notifications you missed",
	}, "\n")
}

// errorReply maps a core error to a user-facing message.
func errorReply(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "Session not found."
	case errors.Is(err, session.ErrForbidden):
		return "Only the organizer can delete this session."
	case errors.Is(err, session.ErrAlreadyCreator):
		return "You organized this session, you are already in."
	case errors.Is(err, session.ErrAlreadyMember):
		return "You have already joined this session."
	case errors.Is(err, session.ErrFull):
		return "Sorry, this session is full."
	case errors.Is(err, session.ErrNotAMember):
		return "You are not in this session."
	case errors.Is(err, creation.ErrNoFlow):
		return "You are not creating a session."
	default:
		return "Something went wrong, please try again."
	}
}

// reply sends text back to the channel (and thread) the message came from.
func (r *Router) reply(ctx context.Context, msg InboundMessage, text string) {
	if text == "" {
		return
	}
	if err := r.adapter.Send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Text:      text,
	}); err != nil {
		r.logger.Warn("send reply", zap.String("channel_id", msg.ChannelID), zap.Error(err))
	}
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}
