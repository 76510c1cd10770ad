package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used for recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithEnabledActions records only the given actions.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithDisabledActions skips the given actions. It narrows whatever set
// is already enabled, or every action when none was chosen.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.ensureFilter()
		for _, a := range actions {
			delete(e.enabled, a)
		}
	}
}

// WithCategories records only actions in the given categories, e.g.
// CategorySubscription for a billing audit trail.
func WithCategories(categories ...string) Option {
	return func(e *Extension) {
		want := make(map[string]bool, len(categories))
		for _, c := range categories {
			want[c] = true
		}
		e.enabled = make(map[string]bool)
		for _, ac := range actionCategories {
			if want[ac.category] {
				e.enabled[ac.action] = true
			}
		}
	}
}

func (e *Extension) ensureFilter() {
	if e.enabled != nil {
		return
	}
	e.enabled = make(map[string]bool, len(actionCategories))
	for _, ac := range actionCategories {
		e.enabled[ac.action] = true
	}
}
