// Package progress fans compile progress out to the visible surfaces and
// owns their dismissal timers.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/texbuild/internal/statusstore"
)

// Surface is one progress display: the full inline bar, the minimized badge,
// or the slim bar. All three are fed the same values so they never diverge.
type Surface interface {
	SetPercent(percent int)
	SetLabel(label string)
	Reveal()
	Hide()
}

// Banner renders terminal outcome banners.
type Banner interface {
	Success(artifactURL string)
	Error(message, detail string)
}

// Affordance is the start/stop control pair. The reporter is the only place
// that flips it.
type Affordance interface {
	CompileStarted()  // stop visible, start hidden
	CompileFinished() // start visible, stop hidden
}

// StatusWriter persists the terminal status lamp value.
type StatusWriter interface {
	Persist(status statusstore.Status, label string) error
}

const (
	defaultSlimHideDelay      = 2000 * time.Millisecond
	defaultBadgeCollapseDelay = 3000 * time.Millisecond
)

// Reporter translates (percent, message) pairs into consistent updates on
// all surfaces. Success banners auto-collapse the badge; error banners stay
// until dismissed, so failures need acknowledgment.
type Reporter struct {
	bar        Surface
	badge      Surface
	slim       Surface
	banner     Banner
	affordance Affordance
	status     StatusWriter

	slimHideDelay      time.Duration
	badgeCollapseDelay time.Duration

	mu         sync.Mutex
	slimTimer  *time.Timer
	badgeTimer *time.Timer
}

// Option adjusts reporter construction.
type Option func(*Reporter)

// WithDelays overrides the fade-out delays (tests).
func WithDelays(slimHide, badgeCollapse time.Duration) Option {
	return func(r *Reporter) {
		r.slimHideDelay = slimHide
		r.badgeCollapseDelay = badgeCollapse
	}
}

// New creates a reporter over the three surfaces. Any surface, the banner,
// the affordance or the status writer may be nil and is then skipped.
func New(bar, badge, slim Surface, banner Banner, affordance Affordance, status StatusWriter, opts ...Option) *Reporter {
	r := &Reporter{
		bar:                bar,
		badge:              badge,
		slim:               slim,
		banner:             banner,
		affordance:         affordance,
		status:             status,
		slimHideDelay:      defaultSlimHideDelay,
		badgeCollapseDelay: defaultBadgeCollapseDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Show starts a new progress lifecycle: percent 0, label "Initializing…",
// all surfaces revealed, stop affordance shown. Pending fade timers from a
// previous lifecycle are cancelled.
func (r *Reporter) Show(title string) {
	r.cancelTimers()

	r.eachSurface(func(s Surface) {
		s.SetPercent(0)
		s.SetLabel("Initializing…")
		s.Reveal()
	})
	if r.affordance != nil {
		r.affordance.CompileStarted()
	}
	slog.Debug("Progress shown", "title", title)
}

// Update fans one (percent, status) pair out to every surface. At 100% the
// slim bar schedules its own hide after the grace period, independent of any
// concurrent terminal render.
func (r *Reporter) Update(percent int, status string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r.eachSurface(func(s Surface) {
		s.SetPercent(percent)
		s.SetLabel(status)
	})

	if percent >= 100 && r.slim != nil {
		r.mu.Lock()
		if r.slimTimer != nil {
			r.slimTimer.Stop()
		}
		r.slimTimer = time.AfterFunc(r.slimHideDelay, r.slim.Hide)
		r.mu.Unlock()
	}
}

// ShowSuccess renders the terminal success state and persists it. The badge
// auto-collapses after the grace period.
func (r *Reporter) ShowSuccess(artifactURL string) {
	if r.bar != nil {
		r.bar.Hide()
	}
	if r.banner != nil {
		r.banner.Success(artifactURL)
	}
	if r.affordance != nil {
		r.affordance.CompileFinished()
	}
	r.persist(statusstore.StatusSuccess, "Success")

	if r.badge != nil {
		r.mu.Lock()
		if r.badgeTimer != nil {
			r.badgeTimer.Stop()
		}
		r.badgeTimer = time.AfterFunc(r.badgeCollapseDelay, r.badge.Hide)
		r.mu.Unlock()
	}
}

// ShowError renders the terminal error state and persists it. The badge is
// deliberately left visible until dismissed manually.
func (r *Reporter) ShowError(message, detail string) {
	if r.bar != nil {
		r.bar.Hide()
	}
	if r.banner != nil {
		r.banner.Error(message, detail)
	}
	if r.affordance != nil {
		r.affordance.CompileFinished()
	}
	r.persist(statusstore.StatusError, "Error")
}

// Dismiss hides the badge and stops pending timers; wired to the manual
// dismissal control.
func (r *Reporter) Dismiss() {
	r.cancelTimers()
	if r.badge != nil {
		r.badge.Hide()
	}
	if r.slim != nil {
		r.slim.Hide()
	}
}

func (r *Reporter) persist(status statusstore.Status, label string) {
	if r.status == nil {
		return
	}
	if err := r.status.Persist(status, label); err != nil {
		slog.Warn("Failed to persist terminal status", "status", status, "err", err)
	}
}

func (r *Reporter) eachSurface(fn func(Surface)) {
	for _, s := range []Surface{r.bar, r.badge, r.slim} {
		if s != nil {
			fn(s)
		}
	}
}

func (r *Reporter) cancelTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slimTimer != nil {
		r.slimTimer.Stop()
		r.slimTimer = nil
	}
	if r.badgeTimer != nil {
		r.badgeTimer.Stop()
		r.badgeTimer = nil
	}
}
