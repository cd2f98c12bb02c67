package relaybuf

import "go.uber.org/zap"

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the logger used for state transitions and fatal
// conditions. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithoutClose stops Run from closing endpoints that implement io.Closer.
func WithoutClose() Option {
	return func(r *Relay) {
		r.closeEndpoints = false
	}
}
