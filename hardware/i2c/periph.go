package i2c

import (
	"fmt"
	"sync"

	"github.com/juju/errors"
	periph_i2c "periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

var periphInitOnce sync.Once
var periphInitErr error

type periphBus struct {
	bc    periph_i2c.BusCloser
	quick *linuxBus // periph Tx has no address-only transfer
}

// OpenPeriph opens bus from periph.io registry, name "" selects first available.
func OpenPeriph(name string) (Bus, error) {
	periphInitOnce.Do(func() {
		_, periphInitErr = host.Init()
	})
	if periphInitErr != nil {
		return nil, errors.Annotate(periphInitErr, "periph/init")
	}
	bc, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Annotatef(err, "periph i2c open name='%s'", name)
	}
	return &periphBus{bc: bc}, nil
}

func (b *periphBus) Tx(addr byte, w, r []byte) error {
	if len(w) == 0 {
		w = nil
	}
	if len(r) == 0 {
		r = nil
	}
	if w == nil && r == nil {
		return errors.Errorf("i2c Tx both w=r=empty nothing to do")
	}
	return b.bc.Tx(uint16(addr), w, r)
}

// QuickWrite goes through /dev/i2c-N of the same bus, periph names it "I2C<N>".
func (b *periphBus) QuickWrite(addr byte) error {
	if b.quick == nil {
		var busNo byte
		if _, err := fmt.Sscanf(b.bc.String(), "I2C%d", &busNo); err != nil {
			return errors.NotSupportedf("periph quick write bus=%s", b.bc.String())
		}
		b.quick = NewLinuxBus(busNo)
	}
	if err := b.quick.Init(); err != nil {
		return errors.NewNotSupported(err, "periph quick write")
	}
	return b.quick.QuickWrite(addr)
}

func (b *periphBus) Close() error {
	if b.quick != nil {
		_ = b.quick.Close()
	}
	return b.bc.Close()
}
func (b *periphBus) String() string { return b.bc.String() }
