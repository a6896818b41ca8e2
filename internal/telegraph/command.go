package telegraph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zulandar/courier/internal/settings"
)

// Control is the operator control surface. It turns owner commands,
// button presses and free-text replies into Configuration Manager calls
// and answers the operator through the adapter.
type Control struct {
	settings *settings.Manager
	adapter  Adapter
	example  string
	log      zerolog.Logger
}

// ControlOpts holds parameters for creating a Control.
type ControlOpts struct {
	Settings *settings.Manager
	Adapter  Adapter
	// ExampleID is shown in input prompts; defaults to a Telegram channel id.
	ExampleID string
	Log       zerolog.Logger
}

// NewControl creates a Control.
func NewControl(opts ControlOpts) (*Control, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("telegraph: control: settings manager is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: control: adapter is required")
	}
	example := opts.ExampleID
	if example == "" {
		example = "-1001234567890"
	}
	return &Control{
		settings: opts.Settings,
		adapter:  opts.Adapter,
		example:  example,
		log:      opts.Log,
	}, nil
}

// parseCommand extracts the command word from "/cmd", "/cmd@botname" or
// "/cmd args". Returns "" when text is not a command.
func parseCommand(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

// HandleCommand executes an owner command sent in a direct chat.
func (c *Control) HandleCommand(ctx context.Context, msg InboundMessage) {
	switch parseCommand(msg.Text) {
	case "start", "menu":
		c.sendMenu(ctx, msg.ChannelID)
	case "status":
		c.sendStatus(ctx, msg.ChannelID)
	case "help":
		c.reply(ctx, msg.ChannelID, helpText(), nil)
	case "setsource":
		c.beginAwaiting(ctx, msg.ChannelID, settings.AwaitingSource)
	case "addtarget":
		c.beginAwaiting(ctx, msg.ChannelID, settings.AwaitingTarget)
	case "toggle":
		running, err := c.settings.ToggleRunning(ctx)
		if err != nil {
			c.replyError(ctx, msg.ChannelID, "toggle relay", err)
			return
		}
		c.reply(ctx, msg.ChannelID, toggleText(running), nil)
	case "cancel":
		c.cancel(ctx, msg.ChannelID)
	default:
		c.reply(ctx, msg.ChannelID, "Unknown command. Send /help for the list.", nil)
	}
}

// HandleCallback executes a menu button press and acknowledges it.
func (c *Control) HandleCallback(ctx context.Context, msg InboundMessage) {
	switch msg.CallbackData {
	case ActionSetSource:
		c.answer(ctx, msg.CallbackID, "", false)
		c.beginAwaiting(ctx, msg.ChannelID, settings.AwaitingSource)
	case ActionAddTarget:
		c.answer(ctx, msg.CallbackID, "", false)
		c.beginAwaiting(ctx, msg.ChannelID, settings.AwaitingTarget)
	case ActionToggleStart:
		running, err := c.settings.ToggleRunning(ctx)
		if err != nil {
			c.answer(ctx, msg.CallbackID, "Could not change relay state", true)
			c.log.Error().Err(err).Msg("Toggle relay failed")
			return
		}
		c.answer(ctx, msg.CallbackID, toggleText(running), true)
		c.sendMenu(ctx, msg.ChannelID)
	case ActionCancelInput:
		c.answer(ctx, msg.CallbackID, "", false)
		c.cancel(ctx, msg.ChannelID)
	default:
		c.answer(ctx, msg.CallbackID, "Unknown action", false)
	}
}

// HandleText interprets a free-text reply against the pending-input mode.
// Text arriving with nothing pending is ignored.
func (c *Control) HandleText(ctx context.Context, msg InboundMessage) {
	outcome, err := c.settings.InterpretPendingText(ctx, msg.Text)
	if err != nil {
		if settings.IsRecoverable(err) {
			c.reply(ctx, msg.ChannelID, inputErrorText(err), cancelButtons())
			return
		}
		c.replyError(ctx, msg.ChannelID, "save channel", err)
		return
	}
	if !outcome.Applied {
		return
	}
	switch outcome.Mode {
	case settings.AwaitingSource:
		c.reply(ctx, msg.ChannelID, fmt.Sprintf("✅ Source channel set: %d", outcome.ChannelID), nil)
	case settings.AwaitingTarget:
		c.reply(ctx, msg.ChannelID, fmt.Sprintf("✅ Target added: %d", outcome.ChannelID), nil)
	}
	c.sendMenu(ctx, msg.ChannelID)
}

func (c *Control) beginAwaiting(ctx context.Context, chatID int64, mode settings.PendingInput) {
	if err := c.settings.BeginAwaiting(ctx, mode); err != nil {
		c.replyError(ctx, chatID, "start input", err)
		return
	}
	c.reply(ctx, chatID, promptText(mode, c.example), cancelButtons())
}

func (c *Control) cancel(ctx context.Context, chatID int64) {
	if err := c.settings.CancelAwaiting(ctx); err != nil {
		c.replyError(ctx, chatID, "cancel input", err)
		return
	}
	c.reply(ctx, chatID, "Cancelled.", nil)
	c.sendMenu(ctx, chatID)
}

func (c *Control) sendMenu(ctx context.Context, chatID int64) {
	rec, err := c.settings.Get(ctx)
	if err != nil {
		c.replyError(ctx, chatID, "read configuration", err)
		return
	}
	c.reply(ctx, chatID, FormatStatus(rec), MenuButtons(rec.IsRunning))
}

func (c *Control) sendStatus(ctx context.Context, chatID int64) {
	rec, err := c.settings.Get(ctx)
	if err != nil {
		c.replyError(ctx, chatID, "read configuration", err)
		return
	}
	c.reply(ctx, chatID, FormatStatus(rec), nil)
}

func (c *Control) reply(ctx context.Context, chatID int64, text string, buttons [][]Button) {
	if err := c.adapter.Send(ctx, OutboundMessage{
		ChannelID: chatID,
		Text:      text,
		Buttons:   buttons,
	}); err != nil {
		c.log.Warn().Err(err).Int64("chat", chatID).Msg("Failed to send operator reply")
	}
}

func (c *Control) replyError(ctx context.Context, chatID int64, op string, err error) {
	c.log.Error().Err(err).Str("op", op).Msg("Control operation failed")
	c.reply(ctx, chatID, "⚠️ Could not "+op+": the configuration store is unavailable. Try again later.", nil)
}

func (c *Control) answer(ctx context.Context, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := c.adapter.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		c.log.Warn().Err(err).Msg("Failed to answer callback")
	}
}

func toggleText(running bool) string {
	if running {
		return "Relay started"
	}
	return "Relay stopped"
}

func inputErrorText(err error) string {
	var pe *settings.ParseError
	if errors.As(err, &pe) {
		return "❌ Invalid id. Send a numeric channel id, or press Cancel."
	}
	var ve *settings.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("❌ %d is not a channel id (%s). Try again, or press Cancel.", ve.ChannelID, ve.Reason)
	}
	return "❌ " + err.Error()
}
