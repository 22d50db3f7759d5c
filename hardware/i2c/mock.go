package i2c

// Public API to easy create I2C bus stubs to test your code.
import (
	"fmt"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/temoto/envtele/helpers"
)

var ErrMockNack = errors.New("i2c mock: no acknowledge")

type mockTx struct {
	addr byte
	w    []byte
	r    []byte
	e    error
}

func (tx mockTx) String() string {
	return fmt.Sprintf("addr=%02x w=%x r=%x e=%v", tx.addr, tx.w, tx.r, tx.e)
}

// MockBus replays expected transactions in order.
// Quick writes are answered from the present address set and never consume
// expectations.
type MockBus struct {
	t       testing.TB
	mu      sync.Mutex
	present map[byte]bool
	expects []mockTx
	index   int
	probes  int
	closed  bool
}

func NewMockBus(t testing.TB, present ...byte) *MockBus {
	m := &MockBus{
		t:       t,
		present: make(map[byte]bool),
		expects: make([]mockTx, 0, 16),
	}
	for _, a := range present {
		m.present[a] = true
	}
	return m
}

// Expect next data transaction to addr writing wHex and respond with rHex.
func (m *MockBus) Expect(addr byte, wHex, rHex string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expects = append(m.expects, mockTx{addr: addr, w: helpers.MustHex(wHex), r: helpers.MustHex(rHex)})
}

// ExpectErr makes next data transaction to addr writing wHex fail with err.
func (m *MockBus) ExpectErr(addr byte, wHex string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expects = append(m.expects, mockTx{addr: addr, w: helpers.MustHex(wHex), e: err})
}

func (m *MockBus) Tx(addr byte, w []byte, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("i2c mock: closed")
	}
	if m.index >= len(m.expects) {
		m.t.Errorf("i2c mock: unexpected Tx addr=%02x w=%x len(r)=%d", addr, w, len(r))
		return errors.New("i2c mock: premature end of expects")
	}
	call := m.expects[m.index]
	m.index++
	if call.addr != addr || !bytesEqual(call.w, w) {
		m.t.Errorf("i2c mock: Tx #%d expected %s actual addr=%02x w=%x", m.index, call, addr, w)
	}
	if call.e != nil {
		return call.e
	}
	if len(call.r) != len(r) && len(r) != 0 {
		m.t.Errorf("i2c mock: Tx #%d expected read len=%d actual=%d", m.index, len(call.r), len(r))
	}
	copy(r, call.r)
	return nil
}

func (m *MockBus) QuickWrite(addr byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("i2c mock: closed")
	}
	m.probes++
	if m.present[addr] {
		return nil
	}
	return ErrMockNack
}

func (m *MockBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockBus) String() string { return "i2c-mock" }

func (m *MockBus) Probes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes
}

// ExpectationsWereMet fails test if some expected transactions were not used.
func (m *MockBus) ExpectationsWereMet() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != len(m.expects) {
		m.t.Errorf("i2c mock: used %d of %d expected transactions, next: %s",
			m.index, len(m.expects), m.expects[m.index])
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
