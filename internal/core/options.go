package core

import "time"

type options struct {
	clock         Clock
	logger        Logger
	metrics       MetricsRecorder
	tracer        Tracer
	submitTimeout time.Duration
}

// Option configures a Service or Manager.
type Option func(*options)

func defaultOptions() options {
	return options{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithClock overrides the time source used for durations and timestamps.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithSubmitTimeout bounds each dispatch to the authoritative store. Zero
// disables the bound; the caller's context still applies.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.submitTimeout = d
		}
	}
}
