package i2c

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		present []byte
		expect  []byte
	}{
		{"empty", nil, []byte{}},
		{"sht30", []byte{0x44}, []byte{0x44}},
		{"order", []byte{0x68, 0x45, 0x44}, []byte{0x44, 0x45, 0x68}},
		{"edges", []byte{AddrMin, AddrMax, 0x7f}, []byte{AddrMin, AddrMax}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			bus := NewMockBus(t, c.present...)
			found := Scan(bus, AddrMin, AddrMax)
			assert.Equal(t, c.expect, found)
			assert.Equal(t, int(AddrMax-AddrMin)+1, bus.Probes())
			bus.ExpectationsWereMet()
		})
	}
}

func TestMockBusReplay(t *testing.T) {
	t.Parallel()
	bus := NewMockBus(t, 0x44)
	bus.Expect(0x44, "f32d", "")
	bus.Expect(0x44, "", "0000 81")
	require.NoError(t, bus.Tx(0x44, []byte{0xf3, 0x2d}, nil))
	buf := make([]byte, 3)
	require.NoError(t, bus.Tx(0x44, nil, buf))
	assert.Equal(t, []byte{0x00, 0x00, 0x81}, buf)
	assert.True(t, Probe(bus, 0x44))
	assert.False(t, Probe(bus, 0x45))
	bus.ExpectationsWereMet()
	require.NoError(t, bus.Close())
	assert.Error(t, bus.Tx(0x44, []byte{0}, nil))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open("bitbang", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bitbang")
}

// readBus answers data transactions only, like SHT3x that NACKs read header
// until a measurement is ready.
type readBus struct {
	ack   map[byte]bool
	quick error // nil = no QuickWrite support
	txs   int
}

func (b *readBus) Tx(addr byte, w, r []byte) error {
	b.txs++
	if b.ack[addr] {
		return nil
	}
	return ErrMockNack
}
func (b *readBus) Close() error   { return nil }
func (b *readBus) String() string { return "read-bus" }

type quickBus struct {
	*readBus
	present map[byte]bool
}

func (b quickBus) QuickWrite(addr byte) error {
	if b.quick != nil {
		return b.quick
	}
	if b.present[addr] {
		return nil
	}
	return ErrMockNack
}

func TestProbeQuickWrite(t *testing.T) {
	t.Parallel()
	// idle sensor: address acks, read header does not
	bus := quickBus{readBus: &readBus{ack: map[byte]bool{}}, present: map[byte]bool{0x44: true}}
	assert.Equal(t, []byte{0x44}, Scan(bus, AddrMin, AddrMax))
	assert.Equal(t, 0, bus.txs)
}

func TestProbeFallbackRead(t *testing.T) {
	t.Parallel()
	plain := &readBus{ack: map[byte]bool{0x45: true}}
	assert.Equal(t, []byte{0x45}, Scan(plain, AddrMin, AddrMax))
	assert.Equal(t, int(AddrMax-AddrMin)+1, plain.txs)

	unsupported := quickBus{
		readBus: &readBus{ack: map[byte]bool{0x45: true}, quick: errors.NotSupportedf("quick write")},
		present: map[byte]bool{0x44: true},
	}
	assert.True(t, Probe(unsupported, 0x45))
	assert.False(t, Probe(unsupported, 0x44))
	assert.Equal(t, 2, unsupported.txs)
}
