package pulse

import "go.uber.org/zap"

type config struct {
	log      *zap.Logger
	capacity int
}

func defaultConfig() config {
	return config{
		log:      zap.NewNop(),
		capacity: 64,
	}
}

// Option configures a decoder.
type Option func(*config)

// WithLogger sets the logger decoders report dropped frames to.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithCapacity sets the byte capacity of the decoder's output buffer.
func WithCapacity(n int) Option {
	return func(c *config) {
		c.capacity = n
	}
}

func newConfig(opts []Option) config {
	c := defaultConfig()
	for _, o := range opts {
		o(&c)
	}
	return c
}
