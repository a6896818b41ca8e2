package telegraph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zulandar/courier/internal/relay"
)

// EventHandler receives channel posts for relaying.
type EventHandler interface {
	OnInboundEvent(ctx context.Context, ev relay.Event) relay.Report
}

// Router classifies inbound chat messages and routes them to the
// appropriate handler: relay engine for channel posts, control surface for
// the owner's commands, button presses and replies, or ignore.
type Router struct {
	engine    EventHandler
	control   *Control
	ownerID   int64
	botUserID int64 // the bot's own user ID (to filter self-messages)
	log       zerolog.Logger

	relays sync.WaitGroup
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Engine    EventHandler
	Control   *Control
	OwnerID   int64
	BotUserID int64 // bot's user ID for self-message filtering
	Log       zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("telegraph: router: engine is required")
	}
	if opts.Control == nil {
		return nil, fmt.Errorf("telegraph: router: control is required")
	}
	if opts.OwnerID == 0 {
		return nil, fmt.Errorf("telegraph: router: owner id is required")
	}
	return &Router{
		engine:    opts.Engine,
		control:   opts.Control,
		ownerID:   opts.OwnerID,
		botUserID: opts.BotUserID,
		log:       opts.Log,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. Channel post → relay engine, asynchronously
//  3. Anyone but the owner → ignore
//  4. Button press → control callback
//  5. Direct "/command" → control command
//  6. Other direct text → pending-input interpretation
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) {
		return
	}

	if msg.Kind == KindChannelPost {
		ev := relay.Event{OriginChannelID: msg.ChannelID, Payload: msg.Payload()}
		r.relays.Add(1)
		go func() {
			defer r.relays.Done()
			r.engine.OnInboundEvent(ctx, ev)
		}()
		return
	}

	if msg.UserID != r.ownerID {
		r.log.Debug().Int64("user", msg.UserID).Str("kind", string(msg.Kind)).Msg("Ignoring message from non-owner")
		return
	}

	switch msg.Kind {
	case KindCallback:
		r.log.Debug().Str("data", msg.CallbackData).Msg("Operator callback")
		r.control.HandleCallback(ctx, msg)
	case KindDirect:
		text := strings.TrimSpace(msg.Text)
		if strings.HasPrefix(text, "/") {
			r.log.Debug().Str("command", parseCommand(text)).Msg("Operator command")
			r.control.HandleCommand(ctx, msg)
			return
		}
		r.control.HandleText(ctx, msg)
	}
}

// Wait blocks until every in-flight relay has finished.
func (r *Router) Wait() {
	r.relays.Wait()
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != 0 && msg.UserID == r.botUserID
}
