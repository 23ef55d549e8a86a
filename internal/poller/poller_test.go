package poller

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/WinOpacity/internal/config"
	"github.com/bryanchriswhite/WinOpacity/internal/control"
	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/bryanchriswhite/WinOpacity/internal/window"
	"github.com/spf13/afero"
)

const configPath = "/cfg/config.json"

func newTestPoller(t *testing.T, contents string, windows ...window.Handle) (*Poller, *config.Store, *window.Fake) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, configPath, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	store := config.NewStore(fs, configPath)
	fake := window.NewFake(windows...)
	return New(store, fake, Options{}), store, fake
}

func readConfig(t *testing.T, store *config.Store) string {
	t.Helper()
	data, err := afero.ReadFile(store.Fs(), store.Path())
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestCycleAppliesAndReschedules(t *testing.T) {
	p, _, fake := newTestPoller(t,
		`{"windows":[{"pattern":"Chrome","opacity":0.8}],"pollInMilliseconds":1000}`,
		window.Handle{ID: 1, Title: "Google Chrome"},
	)

	action, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if action != ScheduleAfter(1000*time.Millisecond) {
		t.Errorf("action = %+v, want schedule after 1s", action)
	}

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Window.ID != 1 || calls[0].Opacity != 0.8 {
		t.Errorf("unexpected opacity calls: %+v", calls)
	}

	status := p.Status()
	if status.State != StateRescheduled || status.Cycles != 1 || status.LastResult.Applied != 1 {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.NextCycle.IsZero() {
		t.Error("next cycle time not recorded")
	}
}

func TestCycleConsumesKillFlag(t *testing.T) {
	p, store, fake := newTestPoller(t,
		"{\n  \"windows\": [\n    {\n      \"pattern\": \".*\",\n      \"opacity\": 0.5\n    }\n  ],\n  \"pollInMilliseconds\": 500,\n  \"kill\": true\n}",
		window.Handle{ID: 1, Title: "anything"},
	)

	action, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if !action.Stop {
		t.Errorf("expected Stop, got %+v", action)
	}

	want := "{\n  \"windows\": [\n    {\n      \"pattern\": \".*\",\n      \"opacity\": 0.5\n    }\n  ],\n  \"pollInMilliseconds\": 500\n}"
	if got := readConfig(t, store); got != want {
		t.Errorf("config after kill:\n%s\nwant:\n%s", got, want)
	}
	if fake.Lists() != 0 || len(fake.Calls()) != 0 {
		t.Error("kill cycle must not touch windows")
	}
	if p.Status().State != StateTerminated {
		t.Errorf("state = %s, want terminated", p.Status().State)
	}
}

func TestSingleShotRunsOneCycle(t *testing.T) {
	for name, contents := range map[string]string{
		"zero interval":     `{"windows":[{"pattern":"Term","opacity":0.9}],"pollInMilliseconds":0}`,
		"negative interval": `{"windows":[{"pattern":"Term","opacity":0.9}],"pollInMilliseconds":-1}`,
		"absent interval":   `{"windows":[{"pattern":"Term","opacity":0.9}]}`,
		"with kill":         `{"windows":[{"pattern":"Term","opacity":0.9}],"pollInMilliseconds":0,"kill":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			p, store, _ := newTestPoller(t, contents, window.Handle{ID: 3, Title: "Terminal"})

			if err := p.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			status := p.Status()
			if status.Cycles != 1 || status.State != StateTerminated {
				t.Errorf("status = %+v, want one cycle and terminated", status)
			}
			if strings.Contains(readConfig(t, store), `"kill"`) {
				t.Error("kill flag left in config")
			}
		})
	}
}

func TestCycleFaultsOnUnreadableConfig(t *testing.T) {
	p, _, fake := newTestPoller(t, `{"windows": [`)

	action, err := p.Cycle(context.Background())
	if !errors.Is(err, config.ErrConfigUnreadable) {
		t.Fatalf("expected ErrConfigUnreadable, got %v", err)
	}
	if !action.Stop {
		t.Error("faulted cycle must stop")
	}
	if fake.Lists() != 0 {
		t.Error("faulted cycle must not list windows")
	}

	status := p.Status()
	if status.State != StateFaulted || status.Error == "" {
		t.Errorf("unexpected status: %+v", status)
	}

	// No restart from a terminal state
	if action, err := p.Cycle(context.Background()); err != nil || !action.Stop || p.Status().Cycles != 1 {
		t.Errorf("cycle after fault ran: %+v, %v, %d cycles", action, err, p.Status().Cycles)
	}
}

func TestRunReturnsFault(t *testing.T) {
	p, store, _ := newTestPoller(t, `{}`)
	store.Fs().Remove(configPath)

	if err := p.Run(context.Background()); !errors.Is(err, config.ErrConfigUnreadable) {
		t.Fatalf("expected ErrConfigUnreadable, got %v", err)
	}
}

func TestCycleSkipsInvalidPattern(t *testing.T) {
	p, _, fake := newTestPoller(t,
		`{"windows":[{"pattern":"(","opacity":0.1},{"pattern":"Files","opacity":0.7}],"pollInMilliseconds":100}`,
		window.Handle{ID: 9, Title: "Files"},
	)

	if _, err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Opacity != 0.7 {
		t.Errorf("valid rule not applied: %+v", calls)
	}
	if status := p.Status(); status.Rules != 1 || status.InvalidRules != 1 {
		t.Errorf("unexpected rule counts: %+v", status)
	}
}

func TestCycleSurvivesWindowErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, configPath, []byte(`{"windows":[{"pattern":"Code","opacity":0.9}],"pollInMilliseconds":100}`), 0644)
	fake := window.NewFake(window.Handle{ID: 1, Title: "Code"}, window.Handle{ID: 2, Title: "Code 2"})
	fake.FailWindow(1, errors.New("BadWindow"))

	var failed []uint32
	p := New(config.NewStore(fs, configPath), fake, Options{
		OnWindowError: func(w window.Handle, opacity float64, err error) {
			failed = append(failed, w.ID)
		},
	})

	action, err := p.Cycle(context.Background())
	if err != nil || action.Stop {
		t.Fatalf("window error must not stop the loop: %+v, %v", action, err)
	}
	if len(failed) != 1 || failed[0] != 1 {
		t.Errorf("error hook calls = %v", failed)
	}
	if res := p.Status().LastResult; res.Applied != 1 || res.Failed != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCycleSurvivesListError(t *testing.T) {
	p, _, fake := newTestPoller(t, `{"windows":[],"pollInMilliseconds":250}`)
	fake.FailList(errors.New("connection refused"))

	action, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatalf("list failure must not fault: %v", err)
	}
	if action != ScheduleAfter(250*time.Millisecond) {
		t.Errorf("action = %+v", action)
	}
}

func TestRunStopsOnKillRequest(t *testing.T) {
	p, store, fake := newTestPoller(t,
		"{\n\t\"windows\": [{\"pattern\": \"Chrome\", \"opacity\": 0.8}],\n\t\"pollInMilliseconds\": 5\n}",
		window.Handle{ID: 1, Title: "Google Chrome"},
	)

	updates := p.Subscribe()
	defer p.Unsubscribe(updates)

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background())
	}()

	// Wait for a couple of applied cycles, then ask the loop to stop the
	// way a second process would.
	deadline := time.After(5 * time.Second)
	for applied := 0; applied < 2; {
		select {
		case s := <-updates:
			if s.State == StateRescheduled {
				applied++
			}
		case <-deadline:
			t.Fatal("poller did not cycle")
		}
	}
	if err := control.RequestKill(store); err != nil {
		t.Fatalf("RequestKill: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop after kill request")
	}

	if got := readConfig(t, store); strings.Contains(got, `"kill"`) {
		t.Errorf("kill flag not consumed:\n%s", got)
	}
	if p.Status().State != StateTerminated {
		t.Errorf("state = %s", p.Status().State)
	}

	cycles := p.Status().Cycles
	lists := fake.Lists()
	time.Sleep(20 * time.Millisecond)
	if p.Status().Cycles != cycles || fake.Lists() != lists {
		t.Error("cycles continued after termination")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p, _, _ := newTestPoller(t, `{"windows":[],"pollInMilliseconds":60000}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for p.Status().State != StateRescheduled {
		if time.Now().After(deadline) {
			t.Fatal("poller did not complete its first cycle")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller ignored cancellation")
	}
	if p.Status().State != StateTerminated {
		t.Errorf("state = %s", p.Status().State)
	}
}

func TestStateText(t *testing.T) {
	text, _ := StateFaulted.MarshalText()
	if string(text) != "faulted" {
		t.Errorf("MarshalText = %s", text)
	}
	if StateRescheduled.Terminal() || !StateTerminated.Terminal() {
		t.Error("unexpected Terminal() results")
	}
}

func TestPreviewDoesNotApply(t *testing.T) {
	p, store, fake := newTestPoller(t,
		`{"windows":[{"pattern":"Chrome","opacity":0.8}],"pollInMilliseconds":1000,"kill":true}`,
		window.Handle{ID: 1, Title: "Google Chrome"},
		window.Handle{ID: 2, Title: "Terminal"},
	)

	plan, err := p.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(plan) != 2 || !plan[0].Matched || plan[0].Opacity != 0.8 || plan[1].Matched {
		t.Errorf("unexpected plan: %+v", plan)
	}
	if len(fake.Calls()) != 0 {
		t.Error("preview applied opacity")
	}
	if !strings.Contains(readConfig(t, store), `"kill":true`) {
		t.Error("preview consumed the kill flag")
	}
	if p.Status().State != StateIdle {
		t.Errorf("preview changed state to %s", p.Status().State)
	}
}

func TestCycleWarnsAboutInvalidPatternAfterPreview(t *testing.T) {
	var logs bytes.Buffer
	if _, err := logger.Init(logger.Options{Level: "warn", Out: &logs}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		logger.Init(logger.Options{Level: "info"})
	})

	p, _, _ := newTestPoller(t,
		`{"windows":[{"pattern":"(","opacity":0.1}],"pollInMilliseconds":100}`,
		window.Handle{ID: 1, Title: "Files"},
	)

	if _, err := p.Preview(context.Background()); err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if _, err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if !strings.Contains(logs.String(), "Skipping rule with invalid pattern") {
		t.Errorf("cycle did not warn about the invalid pattern:\n%s", logs.String())
	}
}
