package power

import (
	"encoding/binary"
	"math"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"codeberg.org/mutker/reactorctl/internal/errors"
	"codeberg.org/mutker/reactorctl/internal/logger"
)

// INA219 register map.
const (
	regConfig      = 0x00
	regShuntVolts  = 0x01
	regBusVolts    = 0x02
	regCurrent     = 0x04
	regCalibration = 0x05
)

// Configuration: 16V bus range, /8 shunt gain (±320mV), 12-bit ADC with
// 8-sample averaging on both channels, continuous shunt and bus conversion.
const configValue = 0x019F | 0x1800

const (
	busVoltsLSB = 0.004 // 4mV per bit, value in bits 15-3
	ovfBit      = 0x1   // math overflow flag in the bus voltage register

	calibrationScale = 0.04096 // fixed by the datasheet calibration equation
	currentDivisions = 32767.0
)

// INA219Config describes the sensor wiring. BusName empty selects the first
// available I2C bus.
type INA219Config struct {
	BusName         string
	Address         uint16
	ShuntOhms       float64
	MaxExpectedAmps float64
}

// INA219 is the TI current/voltage monitor the UPS board carries.
type INA219 struct {
	bus        i2c.BusCloser
	dev        *i2c.Dev
	currentLSB float64
}

// NewINA219 opens the I2C bus, writes the calibration derived from the shunt
// value and expected current, and configures continuous conversion. Errors
// here are fatal to battery monitoring; the caller decides whether the
// process can run without a sensor.
func NewINA219(cfg INA219Config) (*INA219, error) {
	if cfg.ShuntOhms <= 0 || cfg.MaxExpectedAmps <= 0 {
		return nil, errors.WithMessage(errors.ErrInitSensor, "shunt resistance and max current must be positive")
	}

	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(errors.ErrInitSensor, err)
	}

	bus, err := i2creg.Open(cfg.BusName)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInitSensor, err)
	}

	s := &INA219{
		bus:        bus,
		dev:        &i2c.Dev{Bus: bus, Addr: cfg.Address},
		currentLSB: cfg.MaxExpectedAmps / currentDivisions,
	}

	cal := calibration(cfg.ShuntOhms, cfg.MaxExpectedAmps)
	if err := s.writeRegister(regCalibration, cal); err != nil {
		_ = bus.Close()
		return nil, errors.Wrap(errors.ErrInitSensor, err)
	}
	if err := s.writeRegister(regConfig, configValue); err != nil {
		_ = bus.Close()
		return nil, errors.Wrap(errors.ErrInitSensor, err)
	}

	logger.Debug().
		Uint16("address", cfg.Address).
		Float64("shunt_ohms", cfg.ShuntOhms).
		Float64("max_expected_amps", cfg.MaxExpectedAmps).
		Uint16("calibration", cal).
		Msg("Power sensor configured")

	return s, nil
}

// calibration computes the calibration register value for a shunt resistance
// and a maximum expected current, per the datasheet equation
// cal = trunc(0.04096 / (currentLSB * shuntOhms)).
func calibration(shuntOhms, maxExpectedAmps float64) uint16 {
	currentLSB := maxExpectedAmps / currentDivisions
	return uint16(math.Trunc(calibrationScale / (currentLSB * shuntOhms)))
}

// Sample reads the bus voltage and battery current. When the sensor flags a
// math overflow the returned error is a range error and the sample still
// carries the voltage, which remains trustworthy.
func (s *INA219) Sample() (Sample, error) {
	busRaw, err := s.readRegister(regBusVolts)
	if err != nil {
		return Sample{}, errors.Wrap(errors.ErrReadSensor, err)
	}

	sample := Sample{Voltage: float64(busRaw>>3) * busVoltsLSB}

	if busRaw&ovfBit != 0 {
		return sample, errors.New(errors.ErrSensorRange)
	}

	currentRaw, err := s.readRegister(regCurrent)
	if err != nil {
		return Sample{}, errors.Wrap(errors.ErrReadSensor, err)
	}
	sample.Current = float64(int16(currentRaw)) * s.currentLSB * 1000

	return sample, nil
}

// Close releases the I2C bus.
func (s *INA219) Close() error {
	return s.bus.Close()
}

func (s *INA219) writeRegister(reg byte, value uint16) error {
	buf := [3]byte{reg}
	binary.BigEndian.PutUint16(buf[1:], value)
	return s.dev.Tx(buf[:], nil)
}

func (s *INA219) readRegister(reg byte) (uint16, error) {
	var buf [2]byte
	if err := s.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}
