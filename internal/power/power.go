// Package power reads the battery voltage and current from the UPS sensor.
package power

import "codeberg.org/mutker/reactorctl/internal/errors"

// Sample is one instantaneous reading: bus voltage in volts and battery
// current in milliamps. Positive current is discharge, negative is charge.
type Sample struct {
	Voltage float64
	Current float64
}

// Sensor produces power samples. Sample may fail transiently; a range error
// (see IsRangeError) means the current exceeded what the sensor can measure
// at its configured calibration.
type Sensor interface {
	Sample() (Sample, error)
}

// IsRangeError reports whether err is a measurement-range overflow rather
// than a read failure. Range errors still carry a valid voltage.
func IsRangeError(err error) bool {
	return errors.IsCode(err, errors.ErrSensorRange)
}
