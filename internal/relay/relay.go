// Package relay decides whether an inbound channel message is relayed and
// duplicates it into every configured target channel.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zulandar/courier/internal/settings"
)

// Payload is the message content to duplicate. The engine never inspects
// it; replicators copy it verbatim.
type Payload struct {
	FromChannelID int64    // channel the message was posted in
	MessageID     string   // platform message id within FromChannelID
	Text          string   // text body or media caption
	Attachments   []string // platform media references (file ids, URLs)
}

// Event is one message posted in a channel the bot can see.
type Event struct {
	OriginChannelID int64
	Payload         Payload
}

// ConfigReader supplies the current relay configuration.
type ConfigReader interface {
	Get(ctx context.Context) (settings.Record, error)
}

// Replicator duplicates a payload into a target channel as a fresh
// message, without forwarding attribution.
type Replicator interface {
	Duplicate(ctx context.Context, targetID int64, p Payload) error
}

// Decision is the engine's verdict for one event.
type Decision string

const (
	Relayed               Decision = "relayed"
	DropNotRunning        Decision = "not_running"
	DropWrongOrigin       Decision = "wrong_origin"
	DropNoTargets         Decision = "no_targets"
	DropConfigUnavailable Decision = "config_unavailable"
)

// ReplicationError records a failed duplicate into one target.
type ReplicationError struct {
	TargetID int64
	Err      error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("relay: duplicate to %d: %v", e.TargetID, e.Err)
}

func (e *ReplicationError) Unwrap() error { return e.Err }

// TargetResult is the outcome for a single target. Err is nil on success.
type TargetResult struct {
	TargetID int64
	Skipped  bool // target equals the source channel
	Err      *ReplicationError
}

// Report summarises the handling of one event.
type Report struct {
	RelayID  string
	Decision Decision
	Results  []TargetResult
}

// Delivered returns the number of targets that received the payload.
func (r Report) Delivered() int {
	n := 0
	for _, res := range r.Results {
		if !res.Skipped && res.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the per-target errors, in target order.
func (r Report) Failed() []*ReplicationError {
	var errs []*ReplicationError
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// Engine is the relay core. It holds no per-event state; every decision is
// taken against a fresh configuration read.
type Engine struct {
	config        ConfigReader
	replicator    Replicator
	log           zerolog.Logger
	targetTimeout time.Duration
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Config        ConfigReader
	Replicator    Replicator
	Log           zerolog.Logger
	TargetTimeout time.Duration // per-target deadline; zero means none
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("relay: config reader is required")
	}
	if opts.Replicator == nil {
		return nil, fmt.Errorf("relay: replicator is required")
	}
	return &Engine{
		config:        opts.Config,
		replicator:    opts.Replicator,
		log:           opts.Log,
		targetTimeout: opts.TargetTimeout,
	}, nil
}

// OnInboundEvent handles one inbound event. It never returns an error:
// drops and per-target failures are reported in the Report and logged.
func (e *Engine) OnInboundEvent(ctx context.Context, ev Event) Report {
	report := Report{RelayID: uuid.NewString()}
	log := e.log.With().
		Str("relay_id", report.RelayID).
		Int64("origin", ev.OriginChannelID).
		Logger()

	cfg, err := e.config.Get(ctx)
	if err != nil {
		// Unreadable configuration is treated as stopped.
		log.Error().Err(err).Msg("Configuration unavailable, dropping message")
		report.Decision = DropConfigUnavailable
		return report
	}

	if !cfg.IsRunning {
		log.Debug().Msg("Relay stopped, dropping message")
		report.Decision = DropNotRunning
		return report
	}

	source, ok := cfg.Source()
	if !ok || ev.OriginChannelID != source {
		log.Debug().Msg("Message not from source channel, dropping")
		report.Decision = DropWrongOrigin
		return report
	}

	if len(cfg.TargetChannelIDs) == 0 {
		log.Debug().Msg("No target channels configured")
		report.Decision = DropNoTargets
		return report
	}

	report.Decision = Relayed
	report.Results = e.replicate(ctx, source, cfg.TargetChannelIDs, ev.Payload)

	for _, res := range report.Results {
		switch {
		case res.Skipped:
			log.Warn().Int64("target", res.TargetID).Msg("Target is the source channel, skipped")
		case res.Err != nil:
			log.Warn().Err(res.Err.Err).Int64("target", res.TargetID).Msg("Failed to duplicate message")
		default:
			log.Debug().Int64("target", res.TargetID).Msg("Message duplicated")
		}
	}
	log.Info().
		Int("targets", len(report.Results)).
		Int("delivered", report.Delivered()).
		Int("failed", len(report.Failed())).
		Msg("Message relayed")
	return report
}

// replicate duplicates p into every target concurrently. Each call has its
// own result slot; one failing or hanging target does not affect the rest.
func (e *Engine) replicate(ctx context.Context, source int64, targets []int64, p Payload) []TargetResult {
	results := make([]TargetResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		results[i].TargetID = target
		if target == source {
			results[i].Skipped = true
			continue
		}
		wg.Add(1)
		go func(i int, target int64) {
			defer wg.Done()
			if err := e.duplicate(ctx, target, p); err != nil {
				results[i].Err = &ReplicationError{TargetID: target, Err: err}
			}
		}(i, target)
	}
	wg.Wait()
	return results
}

// duplicate performs one isolated replication call. A panicking replicator
// is converted into an error for that target only.
func (e *Engine) duplicate(ctx context.Context, target int64, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replicator panic: %v", r)
		}
	}()
	if e.targetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.targetTimeout)
		defer cancel()
	}
	return e.replicator.Duplicate(ctx, target, p)
}
