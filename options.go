package localba

import (
	"runtime"

	"go.uber.org/zap"
)

const (
	// DefaultInitialDamping is the Levenberg-Marquardt damping of the first iteration.
	DefaultInitialDamping = 1e-3
	// DefaultDampingUp multiplies the damping after a rejected step.
	DefaultDampingUp = 10.0
	// DefaultDampingDown multiplies the damping after an accepted step.
	DefaultDampingDown = 0.1
	// DefaultMinDamping bounds the damping from below.
	DefaultMinDamping = 1e-9
	// DefaultMaxRetries bounds the rejected steps tried within one iteration.
	DefaultMaxRetries = 10
)

type options struct {
	camera         Camera
	logger         *zap.SugaredLogger
	initialDamping float64
	dampingUp      float64
	dampingDown    float64
	minDamping     float64
	maxRetries     int
	workers        int
	fixed          []int
}

func defaultOptions() options {
	return options{
		camera:         Normalized{},
		logger:         zap.NewNop().Sugar(),
		initialDamping: DefaultInitialDamping,
		dampingUp:      DefaultDampingUp,
		dampingDown:    DefaultDampingDown,
		minDamping:     DefaultMinDamping,
		maxRetries:     DefaultMaxRetries,
		workers:        runtime.GOMAXPROCS(0),
	}
}

// Option configures a LocalBundleAdjustment or a Projection.
type Option func(*options)

// WithCamera sets the projection model. If nil is passed, Normalized is used.
func WithCamera(c Camera) Option {
	return func(o *options) {
		if c == nil {
			c = Normalized{}
		}
		o.camera = c
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		if l == nil {
			l = zap.NewNop().Sugar()
		}
		o.logger = l
	}
}

// WithInitialDamping sets the damping added to the diagonal blocks at the first iteration.
func WithInitialDamping(λ float64) Option {
	return func(o *options) {
		o.initialDamping = λ
	}
}

// WithDampingFactors sets the factors applied to the damping after a rejected
// (up) and an accepted (down) step.
func WithDampingFactors(up, down float64) Option {
	return func(o *options) {
		o.dampingUp = up
		o.dampingDown = down
	}
}

// WithMinDamping sets the lower bound of the damping.
func WithMinDamping(λ float64) Option {
	return func(o *options) {
		o.minDamping = λ
	}
}

// WithMaxRetries sets how many rejected steps are tried before an iteration gives up.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithWorkers bounds the goroutines used for per-observation work.
// Values below 1 run everything on the calling goroutine.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithFixedViewpoints keeps the poses of the given viewpoints constant, which
// anchors the gauge of a sliding window.
func WithFixedViewpoints(indices ...int) Option {
	return func(o *options) {
		o.fixed = append(o.fixed, indices...)
	}
}
