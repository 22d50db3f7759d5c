// Package sht3x drives Sensirion SHT30/31/35 humidity and temperature sensor
// in periodic measurement mode.
//
// Sensor owns the I2C bus for the duration of each call and is not safe for
// concurrent use. Initialize must succeed before ReadLatest.
package sht3x

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envtele/crc"
	"github.com/temoto/envtele/hardware/i2c"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/helpers/atomic_clock"
	"github.com/temoto/envtele/internal/timebase"
	"github.com/temoto/envtele/internal/types"
	"github.com/temoto/envtele/log2"
)

const modName string = "sht3x"

const (
	DefaultSettleDelay = 100 * time.Millisecond // datasheet soft reset time is 1.5ms, keep margin
	DefaultPollDelay   = 10 * time.Millisecond
	DefaultReadMargin  = 100 * time.Millisecond
	stopDelay          = 1 * time.Millisecond
	MinSettleDelay     = 100 * time.Millisecond
)

var (
	ErrNoDeviceFound          = errors.New("sht3x: no I2C device found")
	ErrNotInitialized         = errors.New("sht3x: not initialized")
	ErrStatusReadFailed       = errors.New("sht3x: status register read failed")
	ErrMeasurementStartFailed = errors.New("sht3x: periodic measurement start failed")
	ErrMeasurementReadFailed  = errors.New("sht3x: measurement read failed")
)

type Config struct {
	Address       byte // preferred address, used when it acknowledges scan
	Repeatability Repeatability
	Rate          Rate
	SettleDelay   time.Duration // after soft reset
	PollDelay     time.Duration // between fetch attempts while data is not ready
	ReadTimeout   time.Duration // 0 = measurement period + DefaultReadMargin

	Sleep helpers.SleepFunc // nil = helpers.SleepCtx
}

type Stat struct {
	Reads    uint32
	Errors   uint32
	Inits    uint32
	LastRead atomic_clock.Clock
}

type Sensor struct {
	Log    *log2.Log
	bus    i2c.Bus
	clock  timebase.Clock
	config Config

	initialized bool
	addr        byte
	found       []byte
	status      Status
	lastErr     error
	stat        Stat
}

func New(bus i2c.Bus, config Config, clock timebase.Clock, log *log2.Log) *Sensor {
	if config.Address == 0 {
		config.Address = AddrDefault
	}
	if config.SettleDelay == 0 {
		config.SettleDelay = DefaultSettleDelay
	}
	if config.PollDelay == 0 {
		config.PollDelay = DefaultPollDelay
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = config.Rate.Period() + DefaultReadMargin
	}
	if config.Sleep == nil {
		config.Sleep = helpers.SleepCtx
	}
	return &Sensor{
		Log:    log.WithPrefix(modName),
		bus:    bus,
		clock:  clock,
		config: config,
	}
}

func (s *Sensor) Initialized() bool { return s.initialized }
func (s *Sensor) Address() byte     { return s.addr }
func (s *Sensor) Found() []byte     { return s.found }
func (s *Sensor) Status() Status    { return s.status }
func (s *Sensor) LastError() error  { return s.lastErr }
func (s *Sensor) Stat() *Stat       { return &s.stat }

// Initialize scans the bus, resets the sensor and starts periodic measurement.
// On any error the session stays unusable.
func (s *Sensor) Initialize(ctx context.Context) error {
	atomic.AddUint32(&s.stat.Inits, 1)
	s.initialized = false
	err := s.initialize(ctx)
	s.lastErr = err
	if err != nil {
		atomic.AddUint32(&s.stat.Errors, 1)
		return err
	}
	s.initialized = true
	s.Log.Infof("initialized addr=%02x status=%s mode=%04x", s.addr, s.status, PeriodicCommand(s.config.Rate, s.config.Repeatability))
	return nil
}

func (s *Sensor) initialize(ctx context.Context) error {
	s.found = i2c.Scan(s.bus, i2c.AddrMin, i2c.AddrMax)
	if len(s.found) == 0 {
		s.Log.Errorf("no I2C devices found on %s", s.bus)
		return errors.Trace(ErrNoDeviceFound)
	}
	s.addr = s.found[0]
	for _, a := range s.found {
		s.Log.Infof("found device at I2C address 0x%02x", a)
		if a == s.config.Address {
			s.addr = a
		}
	}
	if s.addr != s.config.Address {
		s.Log.Errorf("configured address 0x%02x did not respond, using 0x%02x", s.config.Address, s.addr)
	}

	// stop errors are expected right after power-on, the sensor is idle then
	if err := s.command(CmdStopPeriodic); err != nil {
		s.Log.Debugf("stop measurement err=%v", err)
	}
	if err := s.config.Sleep(ctx, stopDelay); err != nil {
		return errors.Trace(err)
	}
	if err := s.command(CmdSoftReset); err != nil {
		s.Log.Debugf("soft reset err=%v", err)
	}
	if err := s.config.Sleep(ctx, s.config.SettleDelay); err != nil {
		return errors.Trace(err)
	}

	status, err := s.readStatus()
	if err != nil {
		return errors.Wrapf(err, ErrStatusReadFailed, "addr=%02x err=%v", s.addr, err)
	}
	s.status = status
	s.Log.Infof("status register: %s", status)

	cmd := PeriodicCommand(s.config.Rate, s.config.Repeatability)
	if err = s.command(cmd); err != nil {
		return errors.Wrapf(err, ErrMeasurementStartFailed, "addr=%02x cmd=%04x err=%v", s.addr, cmd, err)
	}
	return nil
}

// ReadLatest waits for the next periodic sample, bounded by ReadTimeout.
func (s *Sensor) ReadLatest(ctx context.Context) (types.Reading, error) {
	if !s.initialized {
		return types.Reading{}, errors.Trace(ErrNotInitialized)
	}
	r, err := s.readLatest(ctx)
	s.lastErr = err
	if err != nil {
		atomic.AddUint32(&s.stat.Errors, 1)
		return types.Reading{}, err
	}
	atomic.AddUint32(&s.stat.Reads, 1)
	s.stat.LastRead.SetNow()
	return r, nil
}

func (s *Sensor) readLatest(ctx context.Context) (types.Reading, error) {
	var buf [6]byte
	attempts := int(s.config.ReadTimeout/s.config.PollDelay) + 1
	var err error
	for i := 0; i < attempts; i++ {
		if i != 0 {
			if err = s.config.Sleep(ctx, s.config.PollDelay); err != nil {
				return types.Reading{}, errors.Wrapf(err, ErrMeasurementReadFailed, "interrupted err=%v", err)
			}
		}
		if err = s.command(CmdFetchData); err != nil {
			continue
		}
		// sensor NACKs read header until new data is ready
		if err = s.bus.Tx(s.addr, nil, buf[:]); err != nil {
			continue
		}
		if !crc.Check(buf[0:3]) || !crc.Check(buf[3:6]) {
			err = errors.Errorf("checksum mismatch data=%x", buf)
			return types.Reading{}, errors.Wrapf(err, ErrMeasurementReadFailed, "addr=%02x err=%v", s.addr, err)
		}
		r := types.Reading{
			Temperature: convertTemperature(binary.BigEndian.Uint16(buf[0:2])),
			Humidity:    convertHumidity(binary.BigEndian.Uint16(buf[3:5])),
			Tick:        s.clock.Now(),
		}
		s.Log.Debugf("read %x attempt=%d %s", buf, i+1, r)
		return r, nil
	}
	return types.Reading{}, errors.Wrapf(err, ErrMeasurementReadFailed,
		"addr=%02x data not ready timeout=%s last err=%v", s.addr, s.config.ReadTimeout, err)
}

// Stop leaves periodic mode, sensor goes idle. Session needs Initialize after Stop.
func (s *Sensor) Stop() error {
	s.initialized = false
	if s.addr == 0 {
		return nil
	}
	return errors.Annotate(s.command(CmdStopPeriodic), "sht3x stop")
}

// ReadStatus reads status register, for diagnostics.
func (s *Sensor) ReadStatus() (Status, error) {
	if s.addr == 0 {
		return 0, errors.Trace(ErrNotInitialized)
	}
	return s.readStatus()
}

// ClearStatus resets alert and reset-detected bits.
func (s *Sensor) ClearStatus() error {
	if s.addr == 0 {
		return errors.Trace(ErrNotInitialized)
	}
	return errors.Annotate(s.command(CmdClearStatus), "sht3x clear status")
}

// Tx sends raw command and reads n bytes, for diagnostics.
func (s *Sensor) Tx(cmd uint16, n int) ([]byte, error) {
	if s.addr == 0 {
		return nil, errors.Trace(ErrNotInitialized)
	}
	if err := s.command(cmd); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	err := s.bus.Tx(s.addr, nil, buf)
	return buf, err
}

func (s *Sensor) readStatus() (Status, error) {
	if err := s.command(CmdReadStatus); err != nil {
		return 0, err
	}
	var buf [3]byte
	if err := s.bus.Tx(s.addr, nil, buf[:]); err != nil {
		return 0, err
	}
	if !crc.Check(buf[:]) {
		return 0, errors.Errorf("status checksum mismatch data=%x", buf)
	}
	return Status(binary.BigEndian.Uint16(buf[0:2])), nil
}

func (s *Sensor) command(cmd uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], cmd)
	return s.bus.Tx(s.addr, b[:], nil)
}
