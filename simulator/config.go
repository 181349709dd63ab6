package simulator

import (
	"errors"
	"time"

	"k8s.io/utils/clock"

	"github.com/arloliu/go-msbridge/logger"
)

// DefaultTerminalDuration is the service time of the last spectrum of a timing stream, which has
// no successor to derive a duration from.
const DefaultTerminalDuration = 250 * time.Millisecond

// TimingStream selects the spectrum sequence consecutive retention times are taken from.
type TimingStream uint8

const (
	// PerQueueTiming derives each duration from the next spectrum of the same scan type.
	PerQueueTiming TimingStream = iota
	// AcquisitionTiming derives each duration from the next spectrum in acquisition order,
	// regardless of its scan type.
	AcquisitionTiming
)

// String returns string representation of the timing stream.
func (ts TimingStream) String() string {
	switch ts {
	case PerQueueTiming:
		return "per-queue"
	case AcquisitionTiming:
		return "acquisition"
	default:
		return "unknown"
	}
}

// ParseTimingStream is the inverse of TimingStream.String.
func ParseTimingStream(s string) (TimingStream, error) {
	switch s {
	case "per-queue", "":
		return PerQueueTiming, nil
	case "acquisition":
		return AcquisitionTiming, nil
	default:
		return PerQueueTiming, errors.New("invalid timing stream, should be per-queue or acquisition")
	}
}

// Config holds the simulator configuration.
type Config struct {
	// terminalDuration is the service time of the final spectrum of a timing stream.
	// Defaults to DefaultTerminalDuration.
	terminalDuration time.Duration

	// timingStream selects how service times are derived. Defaults to PerQueueTiming.
	timingStream TimingStream

	// processingDelay adds half of the request's MaxProcessingDelay to every service time.
	// Defaults to false.
	processingDelay bool

	// scheduler delivers completions. Defaults to a RealtimeScheduler on clk.
	scheduler Scheduler

	// clk drives the default RealtimeScheduler. Defaults to the wall clock.
	clk clock.Clock

	logger logger.Logger
}

// NewConfig creates a Config with default values and applies opts in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		terminalDuration: DefaultTerminalDuration,
		timingStream:     PerQueueTiming,
		clk:              clock.RealClock{},
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// TerminalDuration returns the service time of the last spectrum of each timing stream.
func (cfg *Config) TerminalDuration() time.Duration { return cfg.terminalDuration }

// TimingStream returns how service times are derived.
func (cfg *Config) TimingStream() TimingStream { return cfg.timingStream }

// ProcessingDelay reports whether half of a request's MaxProcessingDelay is added to its service time.
func (cfg *Config) ProcessingDelay() bool { return cfg.processingDelay }

// Logger returns the logger of the simulator.
func (cfg *Config) Logger() logger.Logger { return cfg.logger }

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithLogger sets the logger of the simulator.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}

		cfg.logger = l

		return nil
	})
}

// WithScheduler sets the scheduler that delivers completions.
// The simulator takes ownership of the scheduler and stops it on Close.
//
// The default is a RealtimeScheduler driven by the clock set with WithClock.
func WithScheduler(s Scheduler) Option {
	return newOptFunc("WithScheduler", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if s == nil {
			return errors.New("scheduler is nil")
		}

		cfg.scheduler = s

		return nil
	})
}

// WithClock sets the clock of the default RealtimeScheduler. It has no effect together with WithScheduler.
//
// The default is the wall clock.
func WithClock(clk clock.Clock) Option {
	return newOptFunc("WithClock", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if clk == nil {
			return errors.New("clock is nil")
		}

		cfg.clk = clk

		return nil
	})
}

// WithTerminalDuration sets the service time of the final spectrum of a timing stream.
//
// The duration should be between 0 and 1 hour. The default value is 250 milliseconds.
func WithTerminalDuration(d time.Duration) Option {
	return newOptFunc("WithTerminalDuration", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if d < 0 || d > time.Hour {
			return errors.New("terminal duration out of range [0, 1h]")
		}

		cfg.terminalDuration = d

		return nil
	})
}

// WithTimingStream selects how service times are derived from retention times.
//
// The default is PerQueueTiming.
func WithTimingStream(ts TimingStream) Option {
	return newOptFunc("WithTimingStream", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if ts != PerQueueTiming && ts != AcquisitionTiming {
			return errors.New("invalid timing stream")
		}

		cfg.timingStream = ts

		return nil
	})
}

// WithProcessingDelay makes every delivery wait an extra half of the request's MaxProcessingDelay.
//
// Disabled by default.
func WithProcessingDelay(enabled bool) Option {
	return newOptFunc("WithProcessingDelay", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		cfg.processingDelay = enabled

		return nil
	})
}
