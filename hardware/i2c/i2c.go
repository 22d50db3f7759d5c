package i2c

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// 7-bit address space, 0x00 general call and 0x7f reserved
	AddrMin byte = 0x01
	AddrMax byte = 0x7e

	DriverPeriph = "periph"
	DriverIoctl  = "ioctl"
)

// Bus is used to interact with devices on the I2C bus.
// Tx writes w (if not empty) then reads len(r) bytes (if not empty) in one transaction.
// Implementations serialize Tx calls, but a device protocol spanning several Tx
// calls needs exclusive ownership of the bus for its duration.
type Bus interface {
	Tx(addr byte, w []byte, r []byte) error
	Close() error
	String() string
}

// Open returns Bus by driver name. Empty driver means periph.
// name is bus number for ioctl driver ("1" -> /dev/i2c-1) and periph registry name
// for periph driver ("1", "I2C1", "" = first available).
func Open(driver, name string) (Bus, error) {
	switch driver {
	case "", DriverPeriph:
		return OpenPeriph(name)
	case DriverIoctl:
		var busNo byte
		if _, err := fmt.Sscanf(name, "%d", &busNo); err != nil {
			return nil, errors.Annotatef(err, "i2c ioctl bus number='%s'", name)
		}
		b := NewLinuxBus(busNo)
		if err := b.Init(); err != nil {
			return nil, errors.Annotatef(err, "i2c open bus=%d", busNo)
		}
		return b, nil
	default:
		return nil, errors.NotSupportedf("i2c driver=%s", driver)
	}
}

// QuickWriter addresses a device without data (SMBus quick write).
// Devices acknowledge their address on write in any state, while a read
// header may be NACKed, e.g. SHT3x without a measurement ready.
// errors.IsNotSupported result means the bus cannot do it.
type QuickWriter interface {
	QuickWrite(addr byte) error
}

// Probe reports whether any device acknowledges addr.
// One-byte read is the fallback for buses without quick write.
func Probe(b Bus, addr byte) bool {
	if q, ok := b.(QuickWriter); ok {
		err := q.QuickWrite(addr)
		if !errors.IsNotSupported(err) {
			return err == nil
		}
	}
	var buf [1]byte
	return b.Tx(addr, nil, buf[:]) == nil
}

// Scan probes every address in [from, to] and returns acknowledging ones in ascending order.
func Scan(b Bus, from, to byte) []byte {
	found := make([]byte, 0, 4)
	for a := int(from); a <= int(to); a++ {
		if Probe(b, byte(a)) {
			found = append(found, byte(a))
		}
	}
	return found
}
