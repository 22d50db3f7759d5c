package wifi

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// MockRadio is scripted Radio for tests.
// Join succeeds only for SSIDs marked joinable, otherwise association never completes.
type MockRadio struct {
	mu        sync.Mutex
	networks  []Network
	scanErr   error
	joinable  map[string]bool
	connected bool
	ssid      string
	rssi      int32
	calls     []string
}

func NewMockRadio(networks ...Network) *MockRadio {
	return &MockRadio{networks: networks, joinable: make(map[string]bool)}
}

func (m *MockRadio) SetNetworks(networks ...Network) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networks = networks
}

func (m *MockRadio) SetScanError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanErr = err
}

func (m *MockRadio) SetJoinable(ssid string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinable[ssid] = ok
}

// SetRSSI changes current link strength.
func (m *MockRadio) SetRSSI(v int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rssi = v
}

// Drop simulates link loss without Disconnect call.
func (m *MockRadio) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockRadio) SSID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ssid
}

// Calls returns log of radio operations: "scan", "join:<ssid>", "disconnect".
func (m *MockRadio) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockRadio) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockRadio) Scan(ctx context.Context) ([]Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "scan")
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	out := make([]Network, len(m.networks))
	copy(out, m.networks)
	return out, nil
}

func (m *MockRadio) Join(ctx context.Context, ssid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "join:"+ssid)
	if !m.joinable[ssid] {
		return nil
	}
	m.connected = true
	m.ssid = ssid
	for _, n := range m.networks {
		if n.SSID == ssid {
			m.rssi = n.RSSI
			break
		}
	}
	return nil
}

func (m *MockRadio) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockRadio) RSSI() (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, errors.New("wifi mock: not connected")
	}
	return m.rssi, nil
}

func (m *MockRadio) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "disconnect")
	m.connected = false
	m.ssid = ""
	return nil
}
