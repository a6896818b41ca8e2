// Package telegram implements the telegraph Adapter for Telegram using the
// Bot API with long polling.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"github.com/zulandar/courier/internal/relay"
	"github.com/zulandar/courier/internal/telegraph"
)

// pollTimeout is the long-poll timeout in seconds.
const pollTimeout = 30

// botAPI abstracts the telego.Bot methods we use, enabling test mocks.
type botAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	CopyMessage(ctx context.Context, params *telego.CopyMessageParams) (*telego.MessageID, error)
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

// Adapter implements telegraph.Adapter for Telegram.
type Adapter struct {
	bot       botAPI
	botToken  string
	botUserID int64

	mu         sync.Mutex
	connected  bool
	closed     bool
	listening  bool
	inbound    chan telegraph.InboundMessage
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	log        zerolog.Logger
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	BotToken string // Telegram bot token from @BotFather
	Log      zerolog.Logger

	// For testing: inject a mock bot instead of the real Bot API.
	Bot botAPI
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Bot == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	return &Adapter{
		bot:      opts.Bot,
		botToken: opts.BotToken,
		inbound:  make(chan telegraph.InboundMessage, 100),
		log:      opts.Log,
	}, nil
}

// Connect creates the bot client and verifies the token with getMe.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.bot == nil {
		bot, err := telego.NewBot(a.botToken)
		if err != nil {
			return fmt.Errorf("telegram: create bot: %w", err)
		}
		a.bot = bot
	}

	me, err := a.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	a.botUserID = me.ID
	a.log.Info().Str("user", me.Username).Int64("user_id", me.ID).Msg("telegram connected")

	a.connected = true
	return nil
}

// Listen starts long polling and returns a channel of inbound messages.
// The channel is closed when ctx is cancelled or the adapter is closed.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("telegram: not connected")
	}
	if a.listening {
		return a.inbound, nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        pollTimeout,
		AllowedUpdates: []string{"message", "channel_post", "callback_query"},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("telegram: start long polling: %w", err)
	}

	a.cancelPoll = cancel
	a.pollDone = make(chan struct{})
	a.listening = true
	go a.pump(updates)

	return a.inbound, nil
}

// pump converts updates until the update channel closes, then closes inbound.
func (a *Adapter) pump(updates <-chan telego.Update) {
	defer close(a.pollDone)
	defer close(a.inbound)
	for update := range updates {
		msg, ok := convertUpdate(update)
		if !ok {
			continue
		}
		a.inbound <- msg
	}
}

// Send delivers an operator message with an optional inline keyboard.
// DirectUserID takes precedence: in Telegram a private chat id equals the
// user id.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	chatID := msg.ChannelID
	if msg.DirectUserID != 0 {
		chatID = msg.DirectUserID
	}
	if chatID == 0 {
		return fmt.Errorf("telegram: no chat specified")
	}

	params := &telego.SendMessageParams{
		ChatID: tu.ID(chatID),
		Text:   msg.Text,
	}
	if kb := buildKeyboard(msg.Buttons); kb != nil {
		params.ReplyMarkup = kb
	}
	if _, err := a.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Duplicate copies the message into targetID with copyMessage, which
// re-sends the content (text, media, caption) without the "forwarded
// from" header. It does not retry.
func (a *Adapter) Duplicate(ctx context.Context, targetID int64, p relay.Payload) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	messageID, err := strconv.Atoi(p.MessageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", p.MessageID, err)
	}
	_, err = a.bot.CopyMessage(ctx, &telego.CopyMessageParams{
		ChatID:     tu.ID(targetID),
		FromChatID: tu.ID(p.FromChannelID),
		MessageID:  messageID,
	})
	if err != nil {
		return fmt.Errorf("telegram: copy message to %d: %w", targetID, err)
	}
	return nil
}

// AnswerCallback acknowledges a button press; alert shows a modal dialog.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	err := a.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

// Close stops long polling and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	cancel, done, listening := a.cancelPoll, a.pollDone, a.listening
	a.mu.Unlock()

	if !listening {
		close(a.inbound)
		return nil
	}
	cancel()
	// Drain so the pump is never stuck on a full inbound buffer.
	go func() {
		for range a.inbound {
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("telegram: timed out stopping long polling")
	}
	return nil
}

// BotUserID returns the bot's Telegram user ID (available after Connect).
func (a *Adapter) BotUserID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) ensureConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("telegram: not connected")
	}
	return nil
}

// convertUpdate maps a Telegram update to an InboundMessage. Channel posts
// and group messages are relay candidates; private messages and button
// presses go to the control surface.
func convertUpdate(u telego.Update) (telegraph.InboundMessage, bool) {
	switch {
	case u.ChannelPost != nil:
		return convertMessage(u.ChannelPost, telegraph.KindChannelPost), true
	case u.Message != nil:
		kind := telegraph.KindChannelPost
		if u.Message.Chat.Type == telego.ChatTypePrivate {
			kind = telegraph.KindDirect
		}
		return convertMessage(u.Message, kind), true
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		msg := telegraph.InboundMessage{
			Platform:     "telegram",
			Kind:         telegraph.KindCallback,
			UserID:       q.From.ID,
			UserName:     q.From.Username,
			CallbackID:   q.ID,
			CallbackData: q.Data,
			Timestamp:    time.Now(),
		}
		if q.Message != nil {
			msg.ChannelID = q.Message.GetChat().ID
		} else {
			msg.ChannelID = q.From.ID
		}
		return msg, true
	default:
		return telegraph.InboundMessage{}, false
	}
}

func convertMessage(m *telego.Message, kind telegraph.MessageKind) telegraph.InboundMessage {
	msg := telegraph.InboundMessage{
		Platform:    "telegram",
		Kind:        kind,
		ChannelID:   m.Chat.ID,
		MessageID:   strconv.Itoa(m.MessageID),
		Text:        m.Text,
		Attachments: attachments(m),
		Timestamp:   time.Unix(m.Date, 0),
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if m.From != nil {
		msg.UserID = m.From.ID
		msg.UserName = m.From.Username
	}
	return msg
}

// attachments returns the file ids of any media on m.
func attachments(m *telego.Message) []string {
	var ids []string
	if n := len(m.Photo); n > 0 {
		ids = append(ids, m.Photo[n-1].FileID) // largest size
	}
	if m.Document != nil {
		ids = append(ids, m.Document.FileID)
	}
	if m.Video != nil {
		ids = append(ids, m.Video.FileID)
	}
	if m.Audio != nil {
		ids = append(ids, m.Audio.FileID)
	}
	if m.Voice != nil {
		ids = append(ids, m.Voice.FileID)
	}
	if m.Animation != nil {
		ids = append(ids, m.Animation.FileID)
	}
	return ids
}

// buildKeyboard translates button rows into an inline keyboard, or nil.
func buildKeyboard(rows [][]telegraph.Button) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := &telego.InlineKeyboardMarkup{}
	for _, row := range rows {
		var buttons []telego.InlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, telego.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, buttons)
	}
	return kb
}
