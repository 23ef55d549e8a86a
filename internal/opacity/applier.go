// Package opacity applies resolved rule opacities to on-screen windows.
package opacity

import (
	"context"

	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/bryanchriswhite/WinOpacity/internal/rules"
	"github.com/bryanchriswhite/WinOpacity/internal/window"
)

// Assignment is the outcome of matching one window against the rules
type Assignment struct {
	Window  window.Handle `json:"window" yaml:"window"`
	Matched bool          `json:"matched" yaml:"matched"`
	// Rule is the index of the matching rule in the config, -1 if none
	Rule    int     `json:"rule" yaml:"rule"`
	Opacity float64 `json:"opacity,omitempty" yaml:"opacity,omitempty"`
}

// Plan resolves every window against set without touching any window
func Plan(windows []window.Handle, set *rules.Set) []Assignment {
	plan := make([]Assignment, 0, len(windows))
	for _, w := range windows {
		a := Assignment{Window: w, Rule: -1}
		if rule, ok := set.Match(w.Title); ok {
			a.Matched = true
			a.Rule = rule.Index
			a.Opacity = window.ClampOpacity(rule.Opacity)
		}
		plan = append(plan, a)
	}
	return plan
}

// Result summarizes one ApplyAll pass
type Result struct {
	Windows int `json:"windows" yaml:"windows"`
	Matched int `json:"matched" yaml:"matched"`
	Applied int `json:"applied" yaml:"applied"`
	Failed  int `json:"failed" yaml:"failed"`
}

// ErrorHook is told about every window whose opacity could not be set
type ErrorHook func(w window.Handle, opacity float64, err error)

// Applier sets window opacities through a window.Source
type Applier struct {
	source window.Source
	onErr  ErrorHook
}

// NewApplier creates an applier. onErr may be nil.
func NewApplier(source window.Source, onErr ErrorHook) *Applier {
	return &Applier{source: source, onErr: onErr}
}

// ApplyAll sets the opacity of every window matched by set. Windows that
// match no rule are left alone. A failure on one window is logged and
// reported to the hook; the remaining windows are still processed.
func (a *Applier) ApplyAll(ctx context.Context, windows []window.Handle, set *rules.Set) Result {
	log := logger.WithComponent("applier")
	res := Result{Windows: len(windows)}

	for _, assignment := range Plan(windows, set) {
		if !assignment.Matched {
			continue
		}
		res.Matched++

		w := assignment.Window
		if err := a.source.SetOpacity(ctx, w, assignment.Opacity); err != nil {
			res.Failed++
			log.Warn().
				Err(err).
				Uint32("window", w.ID).
				Str("title", w.Title).
				Float64("opacity", assignment.Opacity).
				Msg("Failed to set window opacity")
			if a.onErr != nil {
				a.onErr(w, assignment.Opacity, err)
			}
			continue
		}

		res.Applied++
		log.Debug().
			Uint32("window", w.ID).
			Str("title", w.Title).
			Int("rule", assignment.Rule).
			Float64("opacity", assignment.Opacity).
			Msg("Applied opacity")
	}

	return res
}
