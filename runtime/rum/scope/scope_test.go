package scope

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"goa.design/rum/runtime/rum/command"
	cinmem "goa.design/rum/runtime/rum/crashcontext/inmem"
	"goa.design/rum/runtime/rum/event/inmem"
	"goa.design/rum/runtime/rum/rumcontext"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type (
	fixture struct {
		deps     Dependencies
		provider *rumcontext.Provider
		writer   *inmem.Writer
		crash    *cinmem.Store
		metrics  *recordingMetrics
		logger   *recordingLogger
	}

	recordingMetrics struct {
		mu    sync.Mutex
		calls []string
	}

	recordingLogger struct {
		mu    sync.Mutex
		warns []string
	}
)

func newFixture(t *testing.T, opts ...func(*Dependencies)) *fixture {
	t.Helper()
	f := &fixture{
		provider: rumcontext.NewProvider(rumcontext.Context{ApplicationID: "app", Service: "shop"}),
		writer:   inmem.New(),
		crash:    cinmem.New(),
		metrics:  &recordingMetrics{},
		logger:   &recordingLogger{},
	}
	var seq int
	f.deps = Dependencies{
		ApplicationID:     "app",
		SessionSampleRate: 100,
		Provider:          f.provider,
		Writer:            f.writer,
		CrashContext:      f.crash,
		Sampler:           SamplerFunc(func(float64) bool { return true }),
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
		Logger:  f.logger,
		Metrics: f.metrics,
	}
	for _, o := range opts {
		o(&f.deps)
	}
	return f
}

func (f *fixture) session(initial bool) *SessionScope {
	return NewSessionScope(context.Background(), f.deps, initial, t0)
}

func (f *fixture) setAppState(s rumcontext.AppState) {
	f.provider.Write(func(c *rumcontext.Context) { rumcontext.AppStateField.Set(c, s) })
}

func (m *recordingMetrics) IncCounter(name string, _ float64, tags ...string) {
	m.record(name, tags)
}

func (m *recordingMetrics) RecordTimer(name string, _ time.Duration, tags ...string) {
	m.record(name, tags)
}

func (m *recordingMetrics) RecordGauge(name string, _ float64, tags ...string) {
	m.record(name, tags)
}

func (m *recordingMetrics) record(name string, tags []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, strings.Join(append([]string{name}, tags...), "|"))
}

// count returns the number of recordings of name carrying all tags.
func (m *recordingMetrics) count(name string, tags ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		parts := strings.Split(c, "|")
		if parts[0] != name {
			continue
		}
		ok := true
		for i := 0; i+1 < len(tags); i += 2 {
			if !slices.Contains(pairs(parts[1:]), tags[i]+"="+tags[i+1]) {
				ok = false
			}
		}
		if ok {
			n++
		}
	}
	return n
}

func pairs(tags []string) []string {
	var out []string
	for i := 0; i+1 < len(tags); i += 2 {
		out = append(out, tags[i]+"="+tags[i+1])
	}
	return out
}

func (*recordingLogger) Debug(context.Context, string, ...any) {}
func (*recordingLogger) Info(context.Context, string, ...any)  {}
func (*recordingLogger) Error(context.Context, string, ...any) {}

func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.warns)
}

func startView(at time.Time, key, name string, attrs map[string]any) command.StartView {
	return command.StartView{
		Base:     command.NewBase(at, attrs),
		Identity: command.ViewIdentity{Key: key},
		Name:     name,
		Path:     "app/" + name,
	}
}

func stopView(at time.Time, key string, attrs map[string]any) command.StopView {
	return command.StopView{Base: command.NewBase(at, attrs), Identity: command.ViewIdentity{Key: key}}
}

func addError(at time.Time, msg string) command.AddError {
	return command.AddError{Base: command.NewBase(at, nil), Message: msg, Source: command.ErrorSourceSource}
}

func tap(at time.Time, name string) command.AddUserAction {
	return command.AddUserAction{Base: command.NewBase(at, nil), Type: command.ActionTap, Name: name}
}
