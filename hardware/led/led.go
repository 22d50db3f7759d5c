// Package led drives single status LED on a GPIO character device line.
package led

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/log2"
	gpio "github.com/temoto/gpio-cdev-go"
)

const consumer = "envtele-led"

type LED struct {
	Log   *log2.Log
	mu    sync.Mutex
	chip  gpio.Chiper
	lines gpio.Lineser
	set   gpio.LineSetFunc
	pin   uint32
	on    bool
}

// Open requests pin on chip (e.g. "/dev/gpiochip0") as output.
func Open(chipName string, pin uint32, log *log2.Log) (*LED, error) {
	chip, err := gpio.Open(chipName, consumer)
	if err != nil {
		return nil, errors.Annotatef(err, "led chip=%s", chipName)
	}
	l, err := NewChip(chip, pin, log)
	if err != nil {
		_ = chip.Close()
		return nil, err
	}
	return l, nil
}

// NewChip requests pin as output and turns it off. Chip stays owned by caller on error.
func NewChip(chip gpio.Chiper, pin uint32, log *log2.Log) (*LED, error) {
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, pin)
	if err != nil {
		return nil, errors.Annotatef(err, "led pin=%d", pin)
	}
	l := &LED{
		Log:   log.WithPrefix("led"),
		chip:  chip,
		lines: lines,
		set:   lines.SetFunc(pin),
		pin:   pin,
	}
	if err = l.Set(false); err != nil {
		_ = lines.Close()
		return nil, err
	}
	return l, nil
}

func (l *LED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *LED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(on)
}

func (l *LED) Toggle() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(!l.on)
}

func (l *LED) write(on bool) error {
	var v byte
	if on {
		v = 1
	}
	l.set(v)
	if err := l.lines.Flush(); err != nil {
		return errors.Annotatef(err, "led pin=%d set=%d", l.pin, v)
	}
	l.on = on
	return nil
}

// Close turns LED off and releases GPIO resources.
func (l *LED) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	errs := []error{l.write(false)}
	errs = append(errs, l.lines.Close(), l.chip.Close())
	return helpers.FoldErrors(errs)
}
