package observer

import "time"

// Step applies Delay while the cycle count is below Cycles.
type Step struct {
	Cycles int           `yaml:"cycles" json:"cycles"`
	Delay  time.Duration `yaml:"delay" json:"delay"`
}

// Backoff picks the delay before the next cycle from the number of cycles
// run since the last restart: fast sampling while layout settles, then a
// slow background poll.
type Backoff struct {
	Steps []Step        `yaml:"steps" json:"steps"`
	Idle  time.Duration `yaml:"idle" json:"idle"` // once every step is exhausted
}

// DefaultBackoff is 64ms for the first 10 cycles, 250ms up to cycle 100,
// then 1s.
func DefaultBackoff() Backoff {
	return Backoff{
		Steps: []Step{
			{Cycles: 10, Delay: 64 * time.Millisecond},
			{Cycles: 100, Delay: 250 * time.Millisecond},
		},
		Idle: time.Second,
	}
}

// Delay returns the wait after cycle n (0-indexed).
func (b Backoff) Delay(n int) time.Duration {
	for _, s := range b.Steps {
		if n < s.Cycles {
			return s.Delay
		}
	}
	return b.Idle
}

func (b *Backoff) defaults() {
	if len(b.Steps) == 0 && b.Idle <= 0 {
		*b = DefaultBackoff()
		return
	}
	if b.Idle <= 0 {
		b.Idle = time.Second
	}
}
