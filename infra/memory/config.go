package memory

import "go.uber.org/zap"

// DefaultPinningsBetweenCollect is how often, in pins, a participant runs a
// collection pass on its own.
const DefaultPinningsBetweenCollect = 128

// Config tunes a Collector. The zero value is usable.
type Config struct {
	// Name labels logs and metrics. Defaults to "default".
	Name string

	// PinningsBetweenCollect sets how many first-level pins a participant
	// performs between opportunistic collections. Any positive value is
	// correct; 1 collects on every pin.
	PinningsBetweenCollect uint64

	Logger  *zap.Logger
	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.PinningsBetweenCollect == 0 {
		c.PinningsBetweenCollect = DefaultPinningsBetweenCollect
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil, c.Name)
	}
	return c
}
