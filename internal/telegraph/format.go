package telegraph

import (
	"fmt"
	"strings"

	"github.com/zulandar/courier/internal/settings"
)

// Callback data carried by the operator menu buttons.
const (
	ActionSetSource   = "set_source"
	ActionAddTarget   = "add_target"
	ActionToggleStart = "toggle_start"
	ActionCancelInput = "cancel_input"
)

// FormatStatus renders the configuration record for the operator.
func FormatStatus(rec settings.Record) string {
	var b strings.Builder
	b.WriteString("Courier relay\n\n")
	if rec.IsRunning {
		b.WriteString("Status: Active ✅\n")
	} else {
		b.WriteString("Status: Inactive 🛑\n")
	}
	if src, ok := rec.Source(); ok {
		b.WriteString(fmt.Sprintf("Source channel: %d\n", src))
	} else {
		b.WriteString("Source channel: not set\n")
	}
	b.WriteString(fmt.Sprintf("Targets: %d channels\n", len(rec.TargetChannelIDs)))
	for _, id := range rec.TargetChannelIDs {
		b.WriteString(fmt.Sprintf("  • %d\n", id))
	}
	if _, ok := rec.Source(); rec.IsRunning && !ok {
		b.WriteString("\n⚠️ Running without a source channel: nothing will be relayed.\n")
	}
	switch rec.PendingInput {
	case settings.AwaitingSource:
		b.WriteString("\nWaiting for the source channel id.\n")
	case settings.AwaitingTarget:
		b.WriteString("\nWaiting for a target channel id.\n")
	}
	return b.String()
}

// MenuButtons returns the operator menu keyboard for the current state.
func MenuButtons(running bool) [][]Button {
	toggle := Button{Text: "Start relay 🟢", Data: ActionToggleStart}
	if running {
		toggle.Text = "Stop relay 🛑"
	}
	return [][]Button{
		{{Text: "📝 Set Source Channel", Data: ActionSetSource}},
		{{Text: "🎯 Add Target Channel", Data: ActionAddTarget}},
		{toggle},
	}
}

// cancelButtons is the keyboard shown while waiting for a channel id.
func cancelButtons() [][]Button {
	return [][]Button{{{Text: "Cancel", Data: ActionCancelInput}}}
}

// promptText returns the instructions shown when entering an input mode.
func promptText(mode settings.PendingInput, example string) string {
	switch mode {
	case settings.AwaitingSource:
		return "Setting source channel\n\n" +
			"Send the channel id of the source channel (e.g. " + example + ").\n" +
			"The bot must be an admin there."
	case settings.AwaitingTarget:
		return "Adding target channel\n\n" +
			"Send the channel id of the target channel (e.g. " + example + ").\n" +
			"The bot must be able to post there."
	default:
		return ""
	}
}

// helpText returns usage information for all commands.
func helpText() string {
	return "Courier commands\n" +
		"/start — show the relay menu\n" +
		"/status — show the relay configuration\n" +
		"/setsource — set the source channel\n" +
		"/addtarget — add a target channel\n" +
		"/toggle — start or stop relaying\n" +
		"/cancel — cancel a pending input\n" +
		"/help — this message"
}
