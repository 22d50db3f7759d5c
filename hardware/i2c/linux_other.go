//go:build !linux
// +build !linux

package i2c

import "github.com/juju/errors"

type linuxBus struct{ busNo byte }

func NewLinuxBus(busNo byte) *linuxBus { return &linuxBus{busNo: busNo} }

func (b *linuxBus) Init() error                       { return errors.NotSupportedf("i2c ioctl on this OS") }
func (b *linuxBus) Tx(addr byte, bw, br []byte) error { return b.Init() }
func (b *linuxBus) QuickWrite(addr byte) error        { return b.Init() }
func (b *linuxBus) Close() error                      { return nil }
func (b *linuxBus) String() string                    { return "i2c-unsupported" }
