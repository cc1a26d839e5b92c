// Package cpu produces best-effort CPU readings (temperature, throttle
// flags) through ordered fallback chains. Every probe is independently
// side-effect-free on failure and an exhausted chain yields "unknown", which
// is a valid terminal outcome, not a fault.
package cpu

import "sync"

// Temperature is an optional CPU temperature reading in degrees Celsius.
type Temperature struct {
	Celsius float64
	OK      bool
}

// Throttle is an optional throttle-flag reading.
type Throttle struct {
	Mask uint32
	OK   bool
}

// Reader owns the two fallback chains. Throttle readings additionally keep
// the "occurred since boot" bits sticky across reads, so the invariant holds
// even when a probe (e.g. the inferred one) can only observe current state.
type Reader struct {
	mu          sync.Mutex
	temperature *Chain[float64]
	throttle    *Chain[uint32]
	occurred    uint32
}

// NewReader wires the default probe order: sysfs, vendor tool, supervisor
// query (throttle only), heuristic inference (throttle only).
func NewReader() *Reader {
	return NewReaderWithChains(
		NewChain(
			TemperatureSysfsProbe(),
			TemperatureVcgencmdProbe(),
		),
		NewChain(
			ThrottleSysfsProbe(),
			ThrottleVcgencmdProbe(),
			ThrottleSupervisorProbe("", nil),
			ThrottleInferredProbe("", ""),
		),
	)
}

// NewReaderWithChains builds a Reader over explicit chains. Tests use this to
// substitute counting probes.
func NewReaderWithChains(temperature *Chain[float64], throttle *Chain[uint32]) *Reader {
	return &Reader{
		temperature: temperature,
		throttle:    throttle,
	}
}

// Temperature returns the CPU temperature or an unknown reading.
func (r *Reader) Temperature() Temperature {
	v, ok := r.temperature.Read()
	return Temperature{Celsius: v, OK: ok}
}

// Throttle returns the throttle mask or an unknown reading. Active bits seen
// on any read are latched into the occurred bits of all later reads.
func (r *Reader) Throttle() Throttle {
	mask, ok := r.throttle.Read()
	if !ok {
		return Throttle{}
	}

	r.mu.Lock()
	r.occurred |= (mask & activeMask) << occurredShift
	r.occurred |= mask &^ activeMask
	mask |= r.occurred
	r.mu.Unlock()

	return Throttle{Mask: mask, OK: true}
}
