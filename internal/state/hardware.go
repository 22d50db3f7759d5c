package state

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/envtele/hardware/i2c"
	"github.com/temoto/envtele/hardware/led"
	"github.com/temoto/envtele/hardware/sht3x"
	"github.com/temoto/envtele/hardware/wifi"
)

type hardware struct {
	I2C struct {
		once
		Bus i2c.Bus
	}
	Sensor struct {
		once
		s *sht3x.Sensor
	}
	Radio struct {
		once
		Radio wifi.Radio
	}
	LED struct {
		once
		l *led.LED
	}
}

// I2CBus opens configured bus. Tests may preset Hardware.I2C.Bus.
func (g *Global) I2CBus() (i2c.Bus, error) {
	x := &g.Hardware.I2C // short alias
	_ = x.do(func() error {
		if x.Bus != nil {
			return nil
		}
		cfg := &g.Config.Hardware.I2C
		x.Bus, x.err = i2c.Open(cfg.Driver, cfg.Bus)
		return errors.Annotatef(x.err, "config: hardware.i2c driver=%s bus=%s", cfg.Driver, cfg.Bus)
	})
	return x.Bus, x.err
}

func (g *Global) Sensor() (*sht3x.Sensor, error) {
	x := &g.Hardware.Sensor // short alias
	_ = x.do(func() error {
		bus, err := g.I2CBus()
		if err != nil {
			return err
		}
		sc, err := g.Config.SensorConfig()
		if err != nil {
			return err
		}
		x.s = sht3x.New(bus, sc, g.Clock, g.Log)
		return nil
	})
	return x.s, x.err
}

// WifiRadio returns nmcli radio on configured interface. Tests may preset Hardware.Radio.Radio.
func (g *Global) WifiRadio() wifi.Radio {
	x := &g.Hardware.Radio // short alias
	_ = x.do(func() error {
		if x.Radio == nil {
			x.Radio = wifi.NewNmcli(g.Config.Iface())
		}
		return nil
	})
	return x.Radio
}

// StatusLED returns nil,nil when LED is disabled in config.
func (g *Global) StatusLED() (*led.LED, error) {
	x := &g.Hardware.LED // short alias
	_ = x.do(func() error {
		cfg := &g.Config.Hardware.LED
		if !cfg.Enable {
			return nil
		}
		x.l, x.err = led.Open(g.Config.LEDChip(), uint32(cfg.Pin), g.Log)
		return errors.Annotatef(x.err, "config: hardware.led pin_chip=%s pin=%d", g.Config.LEDChip(), cfg.Pin)
	})
	return x.l, x.err
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
