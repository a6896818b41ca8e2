package relay

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zulandar/courier/internal/settings"
)

// fakeConfig returns a fixed record, or err when set.
type fakeConfig struct {
	rec   settings.Record
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeConfig) Get(ctx context.Context) (settings.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rec, f.err
}

// recordingReplicator records every Duplicate call and fails for targets
// listed in failFor.
type recordingReplicator struct {
	mu      sync.Mutex
	calls   []call
	failFor map[int64]error
	panicOn int64
	block   map[int64]bool
}

type call struct {
	target  int64
	payload Payload
}

func (r *recordingReplicator) Duplicate(ctx context.Context, target int64, p Payload) error {
	if r.block[target] {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	r.calls = append(r.calls, call{target: target, payload: p})
	r.mu.Unlock()
	if r.panicOn != 0 && target == r.panicOn {
		panic("boom")
	}
	if err, ok := r.failFor[target]; ok {
		return err
	}
	return nil
}

func (r *recordingReplicator) targets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func int64Ptr(v int64) *int64 { return &v }

func running(source int64, targets ...int64) settings.Record {
	return settings.Record{
		SourceChannelID:  int64Ptr(source),
		TargetChannelIDs: targets,
		IsRunning:        true,
		PendingInput:     settings.PendingNone,
	}
}

func newTestEngine(t *testing.T, cfg ConfigReader, rep Replicator) *Engine {
	t.Helper()
	e, err := NewEngine(EngineOpts{Config: cfg, Replicator: rep, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

const (
	src = int64(-1001)
	t1  = int64(-1011)
	t2  = int64(-1012)
	t3  = int64(-1013)
)

func eventFrom(origin int64) Event {
	return Event{
		OriginChannelID: origin,
		Payload:         Payload{FromChannelID: origin, MessageID: "42", Text: "hello"},
	}
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(EngineOpts{Replicator: &recordingReplicator{}}); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewEngine(EngineOpts{Config: &fakeConfig{}}); err == nil {
		t.Error("expected error for nil replicator")
	}
}

func TestOnInboundEvent_NotRunning(t *testing.T) {
	tests := []struct {
		name   string
		rec    settings.Record
		origin int64
	}{
		{"from source", settings.Record{SourceChannelID: int64Ptr(src), TargetChannelIDs: []int64{t1, t2}}, src},
		{"from elsewhere", settings.Record{SourceChannelID: int64Ptr(src), TargetChannelIDs: []int64{t1}}, -1999},
		{"unset source", settings.Record{TargetChannelIDs: []int64{t1}}, src},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &recordingReplicator{}
			e := newTestEngine(t, &fakeConfig{rec: tt.rec}, rep)

			report := e.OnInboundEvent(context.Background(), eventFrom(tt.origin))
			if report.Decision != DropNotRunning {
				t.Errorf("Decision = %q, want %q", report.Decision, DropNotRunning)
			}
			if n := len(rep.targets()); n != 0 {
				t.Errorf("replication calls = %d, want 0", n)
			}
		})
	}
}

func TestOnInboundEvent_WrongOrigin(t *testing.T) {
	rep := &recordingReplicator{}
	e := newTestEngine(t, &fakeConfig{rec: running(src, t1, t2)}, rep)

	report := e.OnInboundEvent(context.Background(), eventFrom(-1999))
	if report.Decision != DropWrongOrigin {
		t.Errorf("Decision = %q, want %q", report.Decision, DropWrongOrigin)
	}
	if n := len(rep.targets()); n != 0 {
		t.Errorf("replication calls = %d, want 0", n)
	}
}

func TestOnInboundEvent_RunningWithoutSource(t *testing.T) {
	rep := &recordingReplicator{}
	rec := settings.Record{TargetChannelIDs: []int64{t1}, IsRunning: true}
	e := newTestEngine(t, &fakeConfig{rec: rec}, rep)

	// Zero is not a real channel id but must still not match an unset source.
	for _, origin := range []int64{0, src} {
		report := e.OnInboundEvent(context.Background(), eventFrom(origin))
		if report.Decision != DropWrongOrigin {
			t.Errorf("origin %d: Decision = %q, want %q", origin, report.Decision, DropWrongOrigin)
		}
	}
	if n := len(rep.targets()); n != 0 {
		t.Errorf("replication calls = %d, want 0", n)
	}
}

func TestOnInboundEvent_NoTargets(t *testing.T) {
	rep := &recordingReplicator{}
	e := newTestEngine(t, &fakeConfig{rec: running(src)}, rep)

	report := e.OnInboundEvent(context.Background(), eventFrom(src))
	if report.Decision != DropNoTargets {
		t.Errorf("Decision = %q, want %q", report.Decision, DropNoTargets)
	}
	if len(report.Failed()) != 0 {
		t.Error("no targets is not a failure")
	}
}

func TestOnInboundEvent_FanOut(t *testing.T) {
	rep := &recordingReplicator{}
	e := newTestEngine(t, &fakeConfig{rec: running(src, t1, t2, t3)}, rep)

	ev := eventFrom(src)
	report := e.OnInboundEvent(context.Background(), ev)
	if report.Decision != Relayed {
		t.Fatalf("Decision = %q, want %q", report.Decision, Relayed)
	}

	got := rep.targets()
	want := []int64{t3, t2, t1}
	if len(got) != 3 {
		t.Fatalf("replication calls = %v, want 3", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("targets = %v, want %v", got, want)
			break
		}
	}
	for _, c := range rep.calls {
		if c.payload.Text != "hello" || c.payload.MessageID != "42" || c.payload.FromChannelID != src {
			t.Errorf("payload for %d = %+v, want event payload", c.target, c.payload)
		}
	}
	if report.Delivered() != 3 {
		t.Errorf("Delivered = %d, want 3", report.Delivered())
	}
	if report.RelayID == "" {
		t.Error("RelayID should be set")
	}
}

func TestOnInboundEvent_Isolation(t *testing.T) {
	rep := &recordingReplicator{failFor: map[int64]error{t2: errors.New("bot is not a member")}}
	e := newTestEngine(t, &fakeConfig{rec: running(src, t1, t2, t3)}, rep)

	report := e.OnInboundEvent(context.Background(), eventFrom(src))

	if n := len(rep.targets()); n != 3 {
		t.Errorf("replication calls = %d, want 3", n)
	}
	if report.Delivered() != 2 {
		t.Errorf("Delivered = %d, want 2", report.Delivered())
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].TargetID != t2 {
		t.Fatalf("Failed = %v, want only %d", failed, t2)
	}
	if !strings.Contains(failed[0].Error(), "not a member") {
		t.Errorf("error = %q", failed[0].Error())
	}
}

func TestOnInboundEvent_PanicIsolated(t *testing.T) {
	rep := &recordingReplicator{panicOn: t1}
	e := newTestEngine(t, &fakeConfig{rec: running(src, t1, t2)}, rep)

	report := e.OnInboundEvent(context.Background(), eventFrom(src))
	if report.Delivered() != 1 {
		t.Errorf("Delivered = %d, want 1", report.Delivered())
	}
	failed := report.Failed()
	if len(failed) != 1 || !strings.Contains(failed[0].Err.Error(), "panic") {
		t.Errorf("Failed = %v, want panic recorded for %d", failed, t1)
	}
}

func TestOnInboundEvent_HungTargetTimesOut(t *testing.T) {
	rep := &recordingReplicator{block: map[int64]bool{t1: true}}
	e, err := NewEngine(EngineOpts{
		Config:        &fakeConfig{rec: running(src, t1, t2)},
		Replicator:    rep,
		Log:           zerolog.Nop(),
		TargetTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	done := make(chan Report, 1)
	go func() { done <- e.OnInboundEvent(context.Background(), eventFrom(src)) }()

	select {
	case report := <-done:
		if report.Delivered() != 1 {
			t.Errorf("Delivered = %d, want 1", report.Delivered())
		}
		failed := report.Failed()
		if len(failed) != 1 || !errors.Is(failed[0], context.DeadlineExceeded) {
			t.Errorf("Failed = %v, want deadline exceeded for %d", failed, t1)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnInboundEvent blocked on hung target")
	}
}

func TestOnInboundEvent_SourceAsTargetSkipped(t *testing.T) {
	rep := &recordingReplicator{}
	e := newTestEngine(t, &fakeConfig{rec: running(src, src, t1)}, rep)

	report := e.OnInboundEvent(context.Background(), eventFrom(src))
	got := rep.targets()
	if len(got) != 1 || got[0] != t1 {
		t.Errorf("replication calls = %v, want only %d", got, t1)
	}
	var skipped int
	for _, r := range report.Results {
		if r.Skipped {
			skipped++
		}
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestOnInboundEvent_ConfigUnavailable(t *testing.T) {
	rep := &recordingReplicator{}
	var buf bytes.Buffer
	e, _ := NewEngine(EngineOpts{
		Config:     &fakeConfig{err: &settings.PersistenceError{Op: "get", Err: errors.New("down")}},
		Replicator: rep,
		Log:        zerolog.New(&buf),
	})

	report := e.OnInboundEvent(context.Background(), eventFrom(src))
	if report.Decision != DropConfigUnavailable {
		t.Errorf("Decision = %q, want %q", report.Decision, DropConfigUnavailable)
	}
	if n := len(rep.targets()); n != 0 {
		t.Errorf("replication calls = %d, want 0", n)
	}
	if !strings.Contains(buf.String(), "Configuration unavailable") {
		t.Errorf("expected error log, got %q", buf.String())
	}
}

func TestOnInboundEvent_ReadsConfigEveryEvent(t *testing.T) {
	cfg := &fakeConfig{rec: running(src, t1)}
	rep := &recordingReplicator{}
	e := newTestEngine(t, cfg, rep)

	e.OnInboundEvent(context.Background(), eventFrom(src))
	cfg.mu.Lock()
	cfg.rec.IsRunning = false
	cfg.mu.Unlock()
	e.OnInboundEvent(context.Background(), eventFrom(src))

	if cfg.calls != 2 {
		t.Errorf("config reads = %d, want 2", cfg.calls)
	}
	if n := len(rep.targets()); n != 1 {
		t.Errorf("replication calls = %d, want 1 (second event after stop)", n)
	}
}

func TestOnInboundEvent_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	rep := &recordingReplicator{failFor: map[int64]error{t1: errors.New("forbidden")}}
	e, _ := NewEngine(EngineOpts{
		Config:     &fakeConfig{rec: running(src, t1)},
		Replicator: rep,
		Log:        zerolog.New(&buf),
	})

	report := e.OnInboundEvent(context.Background(), eventFrom(src))
	out := buf.String()
	if !strings.Contains(out, "Failed to duplicate message") || !strings.Contains(out, "forbidden") {
		t.Errorf("failure not logged: %s", out)
	}
	if !strings.Contains(out, report.RelayID) {
		t.Error("log lines should carry relay_id")
	}
}
