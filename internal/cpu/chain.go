package cpu

// Probe is one strategy for obtaining a reading. A probe never returns an
// error: any failure (missing file, parse error, subprocess failure, network
// timeout) is reported as not-ok and the chain falls through to the next
// probe. Exhausting every probe yields not-ok, which is a valid result.
type Probe[T any] func() (T, bool)

// Chain tries an ordered list of probes and returns the first hit.
type Chain[T any] struct {
	probes []Probe[T]
}

func NewChain[T any](probes ...Probe[T]) *Chain[T] {
	return &Chain[T]{probes: probes}
}

// Read attempts each probe in order and stops at the first concrete value.
func (c *Chain[T]) Read() (T, bool) {
	for _, probe := range c.probes {
		if v, ok := probe(); ok {
			return v, true
		}
	}

	var zero T
	return zero, false
}
