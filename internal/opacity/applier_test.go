package opacity

import (
	"context"
	"errors"
	"testing"

	"github.com/bryanchriswhite/WinOpacity/internal/config"
	"github.com/bryanchriswhite/WinOpacity/internal/rules"
	"github.com/bryanchriswhite/WinOpacity/internal/window"
)

func compile(t *testing.T, r ...config.OpacityRule) *rules.Set {
	t.Helper()
	set, errs := rules.Compile(r)
	if len(errs) != 0 {
		t.Fatalf("compile: %v", errs)
	}
	return set
}

func TestApplyAllSetsMatchedWindows(t *testing.T) {
	fake := window.NewFake()
	set := compile(t, config.OpacityRule{Pattern: "Chrome", Opacity: 0.8})
	windows := []window.Handle{{ID: 1, Title: "Google Chrome"}}

	res := NewApplier(fake, nil).ApplyAll(context.Background(), windows, set)

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Window.ID != 1 || calls[0].Opacity != 0.8 {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if res != (Result{Windows: 1, Matched: 1, Applied: 1}) {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestApplyAllLeavesUnmatchedWindowsAlone(t *testing.T) {
	fake := window.NewFake()
	set := compile(t, config.OpacityRule{Pattern: "Chrome", Opacity: 0.8})
	windows := []window.Handle{
		{ID: 1, Title: "Terminal"},
		{ID: 2, Title: "Files"},
	}

	res := NewApplier(fake, nil).ApplyAll(context.Background(), windows, set)

	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("expected no opacity calls, got %+v", calls)
	}
	if res.Matched != 0 || res.Windows != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestApplyAllFirstMatchWins(t *testing.T) {
	fake := window.NewFake()
	set := compile(t,
		config.OpacityRule{Pattern: ".*foo.*", Opacity: 0.5},
		config.OpacityRule{Pattern: ".*", Opacity: 1.0},
	)

	NewApplier(fake, nil).ApplyAll(context.Background(), []window.Handle{{ID: 7, Title: "foobar"}}, set)

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Opacity != 0.5 {
		t.Errorf("expected a single call with 0.5, got %+v", calls)
	}
}

func TestApplyAllContinuesAfterWindowError(t *testing.T) {
	fake := window.NewFake()
	boom := errors.New("BadWindow")
	fake.FailWindow(1, boom)
	set := compile(t, config.OpacityRule{Pattern: "Code", Opacity: 0.9})

	var hooked []uint32
	hook := func(w window.Handle, opacity float64, err error) {
		if !errors.Is(err, boom) {
			t.Errorf("hook got unexpected error %v", err)
		}
		hooked = append(hooked, w.ID)
	}

	res := NewApplier(fake, hook).ApplyAll(context.Background(), []window.Handle{
		{ID: 1, Title: "Code - a.go"},
		{ID: 2, Title: "Code - b.go"},
	}, set)

	if len(hooked) != 1 || hooked[0] != 1 {
		t.Errorf("hook calls = %v, want [1]", hooked)
	}
	if calls := fake.Calls(); len(calls) != 1 || calls[0].Window.ID != 2 {
		t.Errorf("second window not processed: %+v", calls)
	}
	if res != (Result{Windows: 2, Matched: 2, Applied: 1, Failed: 1}) {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestPlanClampsAndRecordsRule(t *testing.T) {
	set := compile(t,
		config.OpacityRule{Pattern: "^$", Opacity: 0.2},
		config.OpacityRule{Pattern: "Overlay", Opacity: 1.7},
	)
	plan := Plan([]window.Handle{{ID: 1, Title: "Overlay"}, {ID: 2, Title: "Other"}}, set)

	if len(plan) != 2 {
		t.Fatalf("plan length = %d", len(plan))
	}
	if !plan[0].Matched || plan[0].Rule != 1 || plan[0].Opacity != 1 {
		t.Errorf("unexpected first assignment: %+v", plan[0])
	}
	if plan[1].Matched || plan[1].Rule != -1 {
		t.Errorf("unexpected second assignment: %+v", plan[1])
	}
}
