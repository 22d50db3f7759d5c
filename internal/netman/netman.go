// Package netman keeps the agent associated with some open wireless network.
// No credentials are stored, so only open networks are ever joined.
//
// Manager is driven from one goroutine (the agent loop) and is not safe for
// concurrent use, except State, Link and Stat.
package netman

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envtele/hardware/wifi"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/helpers/atomic_clock"
	"github.com/temoto/envtele/log2"
)

const modName string = "network"

const (
	DefaultAcceptRSSI  int32 = -70
	DefaultDegradeRSSI int32 = -80
	DefaultJoinTimeout       = 20 * time.Second
	DefaultPollDelay         = 500 * time.Millisecond
	DefaultResetDelay        = 1 * time.Second
	DefaultRescanDelay       = 2 * time.Second
)

var (
	ErrNoNetworksVisible       = errors.New("no networks visible")
	ErrNoOpenNetworkAcceptable = errors.New("no acceptable open network")
	ErrJoinTimeout             = errors.New("join timeout")
	ErrRejoinTimeout           = errors.New("rejoin timeout")
)

type State int32

const (
	Disconnected State = iota
	Scanning
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Scanning:
		return "Scanning"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Config struct {
	AcceptRSSI  int32         // candidate must be stronger than this
	DegradeRSSI int32         // connected link weaker than this is rebuilt
	JoinTimeout time.Duration // per association attempt
	PollDelay   time.Duration // association status poll
	ResetDelay  time.Duration // after disconnect, before scan in Connect
	RescanDelay time.Duration // after teardown, before scan in link rebuild

	Sleep helpers.SleepFunc // nil = helpers.SleepCtx
}

func (c *Config) setDefaults() {
	if c.AcceptRSSI == 0 {
		c.AcceptRSSI = DefaultAcceptRSSI
	}
	if c.DegradeRSSI == 0 {
		c.DegradeRSSI = DefaultDegradeRSSI
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.PollDelay == 0 {
		c.PollDelay = DefaultPollDelay
	}
	if c.ResetDelay == 0 {
		c.ResetDelay = DefaultResetDelay
	}
	if c.RescanDelay == 0 {
		c.RescanDelay = DefaultRescanDelay
	}
	if c.Sleep == nil {
		c.Sleep = helpers.SleepCtx
	}
}

type Stat struct {
	Scans        uint32
	Joins        uint32
	JoinFailures uint32
	Rebuilds     uint32
	LastJoin     atomic_clock.Clock
}

// Link is published connection snapshot.
type Link struct {
	State State  `json:"state"`
	SSID  string `json:"ssid"`
	RSSI  int32  `json:"rssi"`
}

type Manager struct {
	Log    *log2.Log
	radio  wifi.Radio
	config Config

	state State
	ssid  string
	auth  wifi.AuthMode
	rssi  int32

	// set when a weak link was rebuilt, cleared when signal recovers
	// or association is lost, so one threshold crossing causes one rebuild
	degraded bool
	// set when rebuild ended disconnected, next CheckLink retries
	retry bool

	stat Stat
	link atomic.Value // Link
}

func New(radio wifi.Radio, config Config, log *log2.Log) *Manager {
	config.setDefaults()
	m := &Manager{
		Log:    log.WithPrefix(modName),
		radio:  radio,
		config: config,
		state:  Disconnected,
	}
	m.publish()
	return m
}

func (m *Manager) State() State { return State(atomic.LoadInt32((*int32)(&m.state))) }
func (m *Manager) SSID() string { return m.ssid }
func (m *Manager) RSSI() int32  { return m.rssi }
func (m *Manager) Stat() *Stat  { return &m.stat }

// Link is safe to call from any goroutine.
func (m *Manager) Link() Link { return m.link.Load().(Link) }

func (m *Manager) publish() {
	m.link.Store(Link{State: m.State(), SSID: m.ssid, RSSI: m.rssi})
}

// Connected reports live association, both by own state and radio status.
func (m *Manager) Connected() bool {
	return m.State() == Connected && m.radio.Connected()
}

// Connect is idempotent: no-op when already connected and link is up.
// Otherwise tears down any association and joins the first acceptable open network.
func (m *Manager) Connect(ctx context.Context) error {
	if m.Connected() {
		m.Log.Debugf("already connected to: %s", m.ssid)
		return nil
	}
	if m.State() == Connected {
		m.Log.Infof("link to %s lost", m.ssid)
	}
	m.forget()
	m.setState(Disconnected)
	// new association starts a new crossing
	m.degraded = false
	if err := m.radio.Disconnect(); err != nil {
		m.Log.Debugf("disconnect err=%v", err)
	}
	if err := m.config.Sleep(ctx, m.config.ResetDelay); err != nil {
		return errors.Trace(err)
	}

	m.setState(Scanning)
	err := m.scanAndJoin(ctx)
	if err != nil {
		m.setState(Disconnected)
		return errors.Annotate(err, "connect")
	}
	m.retry = false
	return nil
}

// CheckLink rebuilds connection when signal degraded below threshold.
// Only first check after crossing the threshold rebuilds, until signal recovers.
func (m *Manager) CheckLink(ctx context.Context) error {
	switch m.State() {
	case Connected:
	case Disconnected:
		if m.retry {
			m.Log.Infof("retrying connection after failed rebuild")
			return m.Connect(ctx)
		}
		m.Log.Debugf("link check skipped, not connected")
		return nil
	default:
		return nil
	}
	if !m.radio.Connected() {
		m.Log.Infof("link to %s lost", m.ssid)
		m.forget()
		m.setState(Disconnected)
		m.degraded = false
		return nil
	}

	rssi, err := m.radio.RSSI()
	if err != nil {
		return errors.Annotate(err, "link check")
	}
	m.rssi = rssi
	m.publish()
	if rssi >= m.config.DegradeRSSI {
		if m.degraded {
			m.Log.Infof("signal recovered (RSSI: %d) on %s", rssi, m.ssid)
			m.degraded = false
		} else {
			m.Log.Debugf("link ok ssid=%s rssi=%d", m.ssid, rssi)
		}
		return nil
	}
	if m.degraded {
		m.Log.Debugf("signal still weak (RSSI: %d) on %s, already rebuilt", rssi, m.ssid)
		return nil
	}
	m.degraded = true
	return m.rebuild(ctx, rssi)
}

func (m *Manager) rebuild(ctx context.Context, rssi int32) error {
	atomic.AddUint32(&m.stat.Rebuilds, 1)
	m.Log.Infof("current WiFi signal is weak (RSSI: %d), scanning for better options", rssi)
	prevSSID, prevAuth := m.ssid, m.auth
	m.setState(Reconnecting)
	if err := m.radio.Disconnect(); err != nil {
		m.Log.Debugf("disconnect err=%v", err)
	}
	m.forget()
	if err := m.config.Sleep(ctx, m.config.RescanDelay); err != nil {
		m.fail()
		return errors.Trace(err)
	}

	err := m.scanAndJoin(ctx)
	if err == nil {
		return nil
	}
	// previously joined networks are open, only such may be rejoined without scan
	if prevSSID == "" || !prevAuth.IsOpen() {
		m.fail()
		return errors.Wrapf(err, ErrRejoinTimeout, "no fallback network, scan err=%v", err)
	}
	m.Log.Infof("no better network found (%v), attempting to reconnect to: %s", err, prevSSID)
	if jerr := m.join(ctx, prevSSID); jerr != nil {
		m.Log.Errorf("failed to reconnect to: %s err=%v", prevSSID, jerr)
		if derr := m.radio.Disconnect(); derr != nil {
			m.Log.Debugf("disconnect err=%v", derr)
		}
		m.fail()
		return errors.Wrapf(jerr, ErrRejoinTimeout, "ssid=%s err=%v", prevSSID, jerr)
	}
	m.ssid, m.auth = prevSSID, prevAuth
	if r, rerr := m.radio.RSSI(); rerr == nil {
		m.rssi = r
	}
	m.Log.Infof("reconnected to: %s", prevSSID)
	m.setState(Connected)
	return nil
}

// scanAndJoin joins first acceptable network in scan order.
// Sets Connected on success, leaves state unchanged on error.
func (m *Manager) scanAndJoin(ctx context.Context) error {
	m.Log.Infof("scanning for available WiFi networks...")
	atomic.AddUint32(&m.stat.Scans, 1)
	nets, err := m.radio.Scan(ctx)
	if err != nil {
		return errors.Wrapf(err, ErrNoNetworksVisible, "scan err=%v", err)
	}
	if len(nets) == 0 {
		m.Log.Infof("no networks found")
		return errors.Trace(ErrNoNetworksVisible)
	}

	m.Log.Infof("found %d networks", len(nets))
	candidates := 0
	for i, n := range nets {
		m.Log.Infof("%d: %s", i, n)
		if !m.Acceptable(n) {
			continue
		}
		candidates++
		m.Log.Infof("attempting to connect to open network: %s", n.SSID)
		if err = m.join(ctx, n.SSID); err != nil {
			m.Log.Infof("failed to connect to: %s err=%v", n.SSID, err)
			if derr := m.radio.Disconnect(); derr != nil {
				m.Log.Debugf("disconnect err=%v", derr)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		m.ssid, m.auth, m.rssi = n.SSID, n.Auth, n.RSSI
		m.Log.Infof("successfully connected to: %s", n.SSID)
		m.setState(Connected)
		return nil
	}

	if candidates == 0 {
		m.Log.Infof("no suitable public WiFi networks found")
		return errors.Trace(ErrNoOpenNetworkAcceptable)
	}
	return errors.Wrapf(err, ErrJoinTimeout, "candidates=%d last err=%v", candidates, err)
}

// Acceptable reports whether network may be joined without credentials.
func (m *Manager) Acceptable(n wifi.Network) bool {
	return n.Auth.IsOpen() && n.SSID != "" && n.RSSI > m.config.AcceptRSSI
}

// join associates with ssid, bounded by JoinTimeout.
func (m *Manager) join(ctx context.Context, ssid string) error {
	atomic.AddUint32(&m.stat.Joins, 1)
	jctx, cancel := context.WithTimeout(ctx, m.config.JoinTimeout)
	defer cancel()
	err := m.radio.Join(jctx, ssid)
	for err == nil && !m.radio.Connected() {
		if serr := m.config.Sleep(jctx, m.config.PollDelay); serr != nil {
			err = errors.Timeoutf("association ssid=%s timeout=%s", ssid, m.config.JoinTimeout)
		}
	}
	if err != nil {
		atomic.AddUint32(&m.stat.JoinFailures, 1)
		return err
	}
	m.stat.LastJoin.SetNow()
	return nil
}

func (m *Manager) fail() {
	m.forget()
	m.setState(Disconnected)
	m.degraded = false
	m.retry = true
}

func (m *Manager) forget() {
	m.ssid = ""
	m.auth = wifi.AuthUnknown
}

func (m *Manager) setState(s State) {
	old := State(atomic.SwapInt32((*int32)(&m.state), int32(s)))
	m.publish()
	if old != s {
		m.Log.Infof("%s -> %s", old, s)
	}
}
