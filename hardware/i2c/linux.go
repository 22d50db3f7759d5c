//go:build linux
// +build linux

package i2c

// Thanks to
// https://github.com/kidoman/embd and https://bitbucket.org/gmcbay/i2c

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

const (
	// as defined in /usr/include/linux/i2c-dev.h
	I2C_SLAVE = 0x0703 /* Use this slave address */
	I2C_RDWR  = 0x0707 /* Combined R/W transfer (one STOP only) */
	I2C_SMBUS = 0x0720 /* SMBus transfer */

	// as defined in /usr/include/linux/i2c.h
	I2C_SMBUS_WRITE = 0
	I2C_SMBUS_QUICK = 0

	// i2c_msg flags
	// as defined in /usr/include/linux/i2c.h
	I2C_M_RD = 0x0001 /* read data, from slave to master */
)

type i2c_msg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type i2c_rdwr_ioctl_data struct {
	msgs uintptr
	nmsg uint32
}

type i2c_smbus_ioctl_data struct {
	read_write uint8
	command    uint8
	size       uint32
	data       uintptr
}

type linuxBus struct {
	busNo       byte
	file        *os.File
	lk          sync.Mutex
	initialized bool
}

// NewLinuxBus talks to /dev/i2c-N with raw I2C_RDWR ioctl, no extra dependencies.
func NewLinuxBus(busNo byte) *linuxBus {
	return &linuxBus{busNo: busNo}
}

func (b *linuxBus) String() string { return fmt.Sprintf("/dev/i2c-%d", b.busNo) }

func (b *linuxBus) Init() error {
	b.lk.Lock()
	defer b.lk.Unlock()
	return b.init()
}

func (b *linuxBus) init() error {
	if b.initialized {
		return nil
	}

	var err error
	if b.file, err = os.OpenFile(b.String(), os.O_RDWR, os.ModeExclusive); err != nil {
		return err
	}
	b.initialized = true

	return nil
}

func (b *linuxBus) Tx(addr byte, bw []byte, br []byte) error {
	nmsg := uint32(0)
	msgs := [2]i2c_msg{}
	if len(bw) != 0 {
		msgs[nmsg] = i2c_msg{
			addr: uint16(addr), flags: 0,
			buf: uintptr(unsafe.Pointer(&bw[0])), len: uint16(len(bw)),
		}
		nmsg++
	}
	if len(br) != 0 {
		msgs[nmsg] = i2c_msg{
			addr: uint16(addr), flags: I2C_M_RD,
			buf: uintptr(unsafe.Pointer(&br[0])), len: uint16(len(br)),
		}
		nmsg++
	}
	if nmsg == 0 {
		return errors.Errorf("i2c Tx both bw=br=empty nothing to do, use QuickWrite")
	}

	b.lk.Lock()
	defer b.lk.Unlock()
	if err := b.init(); err != nil {
		return err
	}

	rdwr_data := i2c_rdwr_ioctl_data{
		msgs: uintptr(unsafe.Pointer(&msgs[0])),
		nmsg: nmsg,
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		b.file.Fd(), uintptr(I2C_RDWR), uintptr(unsafe.Pointer(&rdwr_data)))
	if errno != 0 {
		return errors.Annotatef(errno, "i2c Tx addr=%02x", addr)
	}
	return nil
}

// QuickWrite sends address with write bit and no data.
// Address claimed by a kernel driver (EBUSY) counts as present.
func (b *linuxBus) QuickWrite(addr byte) error {
	b.lk.Lock()
	defer b.lk.Unlock()

	if err := b.init(); err != nil {
		return err
	}
	fd := b.file.Fd()
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(I2C_SLAVE), uintptr(addr)); errno != 0 {
		if errno == unix.EBUSY {
			return nil
		}
		return errors.Annotatef(errno, "i2c set address=%02x", addr)
	}
	data := i2c_smbus_ioctl_data{read_write: I2C_SMBUS_WRITE, size: I2C_SMBUS_QUICK}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(I2C_SMBUS), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return errors.Annotatef(errno, "i2c quick write addr=%02x", addr)
	}
	return nil
}

func (b *linuxBus) Close() error {
	b.lk.Lock()
	defer b.lk.Unlock()

	if !b.initialized {
		return nil
	}
	b.initialized = false
	return b.file.Close()
}
