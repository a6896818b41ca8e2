// Package discord implements the telegraph Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/zulandar/courier/internal/relay"
	"github.com/zulandar/courier/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// maxContentLen is Discord's message content limit.
	maxContentLen = 2000
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements telegraph.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess           session
	botToken       string
	botUserID      int64
	mu             sync.Mutex
	connected      bool
	closed         bool
	inbound        chan telegraph.InboundMessage
	removeHandlers []func()
	interactions   map[string]*discordgo.Interaction // pending button presses by id
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	log            zerolog.Logger
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	Log      zerolog.Logger

	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	a := &Adapter{
		botToken:     opts.BotToken,
		inbound:      make(chan telegraph.InboundMessage, 100),
		interactions: make(map[string]*discordgo.Interaction),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		log:          opts.Log,
	}

	if opts.Session != nil {
		a.sess = opts.Session
	}

	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Register Ready handler to capture bot user ID on connect/reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		id, err := strconv.ParseInt(r.User.ID, 10, 64)
		if err != nil {
			a.log.Warn().Err(err).Str("user_id", r.User.ID).Msg("unexpected bot user id")
			return
		}
		a.mu.Lock()
		a.botUserID = id
		a.mu.Unlock()
		a.log.Info().Str("user", r.User.Username).Str("user_id", r.User.ID).Msg("discord connected")
	})

	// discordgo handles reconnection automatically; log it for observability.
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		a.log.Warn().Msg("discord gateway disconnected, reconnecting")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages from Discord. Registers
// message and interaction handlers on the Gateway session. Must be called
// after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removeHandlers = append(a.removeHandlers,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			a.handleInteraction(i)
		}),
	)

	return a.inbound, nil
}

// Send delivers an operator message. DirectUserID takes precedence over
// ChannelID and opens (or reuses) the DM channel with that user.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}

	channelID := ""
	if msg.ChannelID != 0 {
		channelID = strconv.FormatInt(msg.ChannelID, 10)
	}
	if msg.DirectUserID != 0 {
		var dm *discordgo.Channel
		err := a.retryOnRateLimit(ctx, func() error {
			var apiErr error
			dm, apiErr = a.sess.UserChannelCreate(strconv.FormatInt(msg.DirectUserID, 10), discordgo.WithContext(ctx))
			return apiErr
		})
		if err != nil {
			return fmt.Errorf("discord: open direct channel: %w", err)
		}
		channelID = dm.ID
	}
	if channelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)
	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Duplicate re-posts the payload's content and attachment links into the
// target channel as a fresh bot message. It does not retry.
func (a *Adapter) Duplicate(ctx context.Context, targetID int64, p relay.Payload) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	content := duplicateContent(p)
	if content == "" {
		return fmt.Errorf("discord: message %s has no content to duplicate", p.MessageID)
	}
	_, err := a.sess.ChannelMessageSendComplex(
		strconv.FormatInt(targetID, 10),
		&discordgo.MessageSend{
			Content:         content,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("discord: duplicate to %d: %w", targetID, err)
	}
	return nil
}

// AnswerCallback responds to a button interaction. Text is shown to the
// presser only; Discord has no modal alerts, so alert is treated the same.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	a.mu.Lock()
	interaction, ok := a.interactions[callbackID]
	delete(a.interactions, callbackID)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord: unknown interaction %q", callbackID)
	}

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if text != "" {
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: text,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}
	}
	if err := a.sess.InteractionRespond(interaction, resp, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: answer interaction: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removeHandlers {
		remove()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) ensureConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// deliver pushes msg to the inbound channel unless the adapter is closed.
func (a *Adapter) deliver(msg telegraph.InboundMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		a.log.Warn().Str("message_id", msg.MessageID).Msg("inbound buffer full, dropping message")
	}
}

// handleMessage converts a Discord message event to an InboundMessage.
// Guild messages become channel posts; messages without a guild are DMs.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	userID, err := strconv.ParseInt(m.Author.ID, 10, 64)
	if err != nil {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if userID == botID {
		return
	}

	channelID, err := strconv.ParseInt(m.ChannelID, 10, 64)
	if err != nil {
		a.log.Warn().Str("channel_id", m.ChannelID).Msg("unexpected channel id")
		return
	}

	kind := telegraph.KindChannelPost
	if m.GuildID == "" {
		if m.Author.Bot {
			return
		}
		kind = telegraph.KindDirect
	}

	var attachments []string
	for _, att := range m.Attachments {
		attachments = append(attachments, att.URL)
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)

	a.deliver(telegraph.InboundMessage{
		Platform:    "discord",
		Kind:        kind,
		ChannelID:   channelID,
		MessageID:   m.ID,
		UserID:      userID,
		UserName:    m.Author.Username,
		Text:        m.Content,
		Attachments: attachments,
		Timestamp:   ts,
	})
}

// handleInteraction converts a button press into a callback message and
// keeps the interaction so AnswerCallback can respond to it.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}
	userID, err := strconv.ParseInt(user.ID, 10, 64)
	if err != nil {
		return
	}
	channelID, _ := strconv.ParseInt(i.ChannelID, 10, 64)

	a.mu.Lock()
	a.interactions[i.ID] = i.Interaction
	a.mu.Unlock()

	a.deliver(telegraph.InboundMessage{
		Platform:     "discord",
		Kind:         telegraph.KindCallback,
		ChannelID:    channelID,
		UserID:       userID,
		UserName:     user.Username,
		CallbackID:   i.ID,
		CallbackData: i.MessageComponentData().CustomID,
		Timestamp:    time.Now(),
	})
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend
// with one action row per button row.
func buildMessageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{
		Content: truncate(msg.Text, maxContentLen),
	}
	for _, row := range msg.Buttons {
		var buttons []discordgo.MessageComponent
		for _, b := range row {
			buttons = append(buttons, discordgo.Button{
				Label:    b.Text,
				Style:    discordgo.PrimaryButton,
				CustomID: b.Data,
			})
		}
		if len(buttons) > 0 {
			data.Components = append(data.Components, discordgo.ActionsRow{Components: buttons})
		}
	}
	return data
}

// duplicateContent joins the text and attachment URLs of p.
func duplicateContent(p relay.Payload) string {
	parts := make([]string, 0, len(p.Attachments)+1)
	if p.Text != "" {
		parts = append(parts, p.Text)
	}
	parts = append(parts, p.Attachments...)
	return truncate(strings.Join(parts, "\n"), maxContentLen)
}

// truncate returns s cut to at most maxLen bytes on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		// Check if it's a rate limit error.
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		a.log.Warn().Int("attempt", attempt+1).Int("max", maxRetries).Dur("wait", wait).Msg("discord rate limited, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
