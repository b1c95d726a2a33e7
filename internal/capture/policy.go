package capture

import (
	"math"
	"time"
)

// Policy holds the orchestrator's timing and attempt limits.
type Policy struct {
	SingleAttempts int `yaml:"single_attempts"`
	AllAttempts    int `yaml:"all_attempts"`
	CustomAttempts int `yaml:"custom_attempts"`

	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	StabilizeDelay    time.Duration `yaml:"stabilize_delay"`
	ChallengePoll     time.Duration `yaml:"challenge_poll"`
	ChallengeMaxWait  time.Duration `yaml:"challenge_max_wait"`
	LandingSettle     time.Duration `yaml:"landing_settle"`
	ImageLoadTimeout  time.Duration `yaml:"image_load_timeout"`

	// LazyScrollViewports bounds the lazy-load sweep in viewport heights.
	LazyScrollViewports int           `yaml:"lazy_scroll_viewports"`
	LazyScrollStep      time.Duration `yaml:"lazy_scroll_step"`
}

func DefaultPolicy() Policy {
	return Policy{
		SingleAttempts:      5,
		AllAttempts:         10,
		CustomAttempts:      10,
		NavigationTimeout:   30 * time.Second,
		StabilizeDelay:      2 * time.Second,
		ChallengePoll:       2 * time.Second,
		ChallengeMaxWait:    20 * time.Second,
		LandingSettle:       2 * time.Second,
		ImageLoadTimeout:    10 * time.Second,
		LazyScrollViewports: 5,
		LazyScrollStep:      300 * time.Millisecond,
	}
}

// Merge overlays the non-zero fields of o onto p.
func (p Policy) Merge(o Policy) Policy {
	ints := []struct{ dst, src *int }{
		{&p.SingleAttempts, &o.SingleAttempts},
		{&p.AllAttempts, &o.AllAttempts},
		{&p.CustomAttempts, &o.CustomAttempts},
		{&p.LazyScrollViewports, &o.LazyScrollViewports},
	}
	for _, f := range ints {
		if *f.src > 0 {
			*f.dst = *f.src
		}
	}
	durs := []struct{ dst, src *time.Duration }{
		{&p.NavigationTimeout, &o.NavigationTimeout},
		{&p.StabilizeDelay, &o.StabilizeDelay},
		{&p.ChallengePoll, &o.ChallengePoll},
		{&p.ChallengeMaxWait, &o.ChallengeMaxWait},
		{&p.LandingSettle, &o.LandingSettle},
		{&p.ImageLoadTimeout, &o.ImageLoadTimeout},
		{&p.LazyScrollStep, &o.LazyScrollStep},
	}
	for _, f := range durs {
		if *f.src > 0 {
			*f.dst = *f.src
		}
	}
	return p
}

// Limits returns the attempt budget and success target for a mode.
func (p Policy) Limits(mode Mode, slotCount int) (maxAttempts, target int) {
	switch mode {
	case ModeAll:
		return p.AllAttempts, math.MaxInt
	case ModeCustom:
		return p.CustomAttempts, max(slotCount, 1)
	default:
		return p.SingleAttempts, 1
	}
}
