package telegraph

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/zulandar/courier/internal/relay"
	"github.com/zulandar/courier/internal/settings"
)

// Daemon is the main courier process. It connects to a chat platform via
// an Adapter, pumps inbound messages to the router, and reports relay
// status to the owner.
type Daemon struct {
	settings      *settings.Manager
	adapter       Adapter
	ownerID       int64
	heartbeatCron string
	targetTimeout time.Duration
	exampleID     string
	log           zerolog.Logger
	out           io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Settings      *settings.Manager
	Adapter       Adapter
	OwnerID       int64
	HeartbeatCron string        // optional; empty disables status reports
	TargetTimeout time.Duration // per-target duplicate deadline; zero means none
	ExampleID     string        // channel id shown in operator prompts
	Log           zerolog.Logger
	Out           io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("telegraph: settings manager is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.OwnerID == 0 {
		return nil, fmt.Errorf("telegraph: owner id is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		settings:      opts.Settings,
		adapter:       opts.Adapter,
		ownerID:       opts.OwnerID,
		heartbeatCron: opts.HeartbeatCron,
		targetTimeout: opts.TargetTimeout,
		exampleID:     opts.ExampleID,
		log:           opts.Log,
		out:           out,
	}, nil
}

// Run starts the daemon. It connects the adapter, makes sure the
// configuration record exists, builds the engine, control surface and
// router, and blocks until the context is cancelled or the adapter closes
// its inbound channel. On shutdown it waits for in-flight relays and closes
// the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Courier connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	rec, err := d.settings.Get(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: load configuration: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID int64
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	engine, err := relay.NewEngine(relay.EngineOpts{
		Config:        d.settings,
		Replicator:    d.adapter,
		Log:           d.log.With().Str("component", "relay").Logger(),
		TargetTimeout: d.targetTimeout,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build engine: %w", err)
	}

	control, err := NewControl(ControlOpts{
		Settings:  d.settings,
		Adapter:   d.adapter,
		ExampleID: d.exampleID,
		Log:       d.log.With().Str("component", "control").Logger(),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build control: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Engine:    engine,
		Control:   control,
		OwnerID:   d.ownerID,
		BotUserID: botUserID,
		Log:       d.log.With().Str("component", "router").Logger(),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	go d.runHeartbeat(ctx, d.heartbeatCron)

	fmt.Fprintf(d.out, "Courier online\n")
	ev := d.log.Info().Bool("running", rec.IsRunning).Int("targets", len(rec.TargetChannelIDs))
	if src, ok := rec.Source(); ok {
		ev = ev.Int64("source", src)
	}
	ev.Msg("Courier online")
	if _, ok := rec.Source(); rec.IsRunning && !ok {
		d.log.Warn().Msg("Relay is running but no source channel is set")
	}

	// Main event loop: pump inbound messages until context is cancelled.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Courier shutting down...\n")
			d.shutdown(router)
			fmt.Fprintf(d.out, "Courier stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Courier inbound channel closed\n")
				d.shutdown(router)
				return nil
			}
			router.Handle(ctx, msg)
		}
	}
}

// shutdown waits for in-flight relays, then closes the adapter.
func (d *Daemon) shutdown(router *Router) {
	router.Wait()
	if err := d.adapter.Close(); err != nil {
		d.log.Warn().Err(err).Msg("Close adapter")
	}
}
