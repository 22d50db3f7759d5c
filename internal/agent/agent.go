// Package agent runs the single cooperative loop: sample, deliver, keep the link up.
//
// Every pass checks two independent interval timers. Blocking happens only
// inside bounded operations (sensor read, network join, HTTP request) and
// in a short yield between passes.
package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/internal/timebase"
	"github.com/temoto/envtele/internal/types"
	"github.com/temoto/envtele/log2"
)

const (
	DefaultSampleInterval = 1 * time.Second
	DefaultLinkInterval   = 300 * time.Second
	DefaultHaltInterval   = 1 * time.Second
	DefaultYield          = 100 * time.Millisecond
)

type Sensor interface {
	Initialize(ctx context.Context) error
	ReadLatest(ctx context.Context) (types.Reading, error)
}

type Network interface {
	Connected() bool
	Connect(ctx context.Context) error
	CheckLink(ctx context.Context) error
}

type Reporter interface {
	Report(ctx context.Context, r types.Reading) error
}

// Indicator is optional status light.
type Indicator interface {
	Set(on bool) error
	Toggle() error
}

// NotifyFunc receives sd_notify(3) state strings.
type NotifyFunc func(state string)

type Config struct {
	SampleInterval time.Duration
	LinkInterval   time.Duration
	HaltInterval   time.Duration // halted diagnostic repeat
	Yield          time.Duration // pause between loop passes

	Sleep helpers.SleepFunc // nil = helpers.SleepCtx
}

type Stat struct {
	Steps        uint32 `json:"steps"`
	Samples      uint32 `json:"samples"`
	SampleErrors uint32 `json:"sample_errors"`
	ReportErrors uint32 `json:"report_errors"`
	LinkChecks   uint32 `json:"link_checks"`
	LinkErrors   uint32 `json:"link_errors"`
	Clamps       uint32 `json:"clock_clamps"`
}

// CopyTo is atomic per field.
func (s *Stat) CopyTo(dst *Stat) {
	dst.Steps = atomic.LoadUint32(&s.Steps)
	dst.Samples = atomic.LoadUint32(&s.Samples)
	dst.SampleErrors = atomic.LoadUint32(&s.SampleErrors)
	dst.ReportErrors = atomic.LoadUint32(&s.ReportErrors)
	dst.LinkChecks = atomic.LoadUint32(&s.LinkChecks)
	dst.LinkErrors = atomic.LoadUint32(&s.LinkErrors)
	dst.Clamps = atomic.LoadUint32(&s.Clamps)
}

type Agent struct {
	Log    *log2.Log
	LED    Indicator
	Notify NotifyFunc

	clock    timebase.Clock
	sensor   Sensor
	net      Network
	reporter Reporter
	config   Config

	sample     timebase.Interval
	link       timebase.Interval
	haltReport timebase.Interval
	started    bool
	halted     uint32 // atomic, read by status server
	haltErr    error
	stat       Stat
}

func New(sensor Sensor, net Network, reporter Reporter, clock timebase.Clock, config Config, log *log2.Log) *Agent {
	if config.SampleInterval == 0 {
		config.SampleInterval = DefaultSampleInterval
	}
	if config.LinkInterval == 0 {
		config.LinkInterval = DefaultLinkInterval
	}
	if config.HaltInterval == 0 {
		config.HaltInterval = DefaultHaltInterval
	}
	if config.Yield == 0 {
		config.Yield = DefaultYield
	}
	if config.Sleep == nil {
		config.Sleep = helpers.SleepCtx
	}
	return &Agent{
		Log:      log,
		clock:    clock,
		sensor:   sensor,
		net:      net,
		reporter: reporter,
		config:   config,
	}
}

func (a *Agent) Halted() bool              { return atomic.LoadUint32(&a.halted) == 1 }
func (a *Agent) HaltErr() error            { return a.haltErr }
func (a *Agent) Stat() *Stat               { return &a.stat }
func (a *Agent) Sample() timebase.Interval { return a.sample }
func (a *Agent) Link() timebase.Interval   { return a.link }

// Start initializes sensor and makes first connection attempt.
// Sensor failure puts agent into halted state, error is returned for logging only.
func (a *Agent) Start(ctx context.Context) error {
	now := a.clock.Now()
	// sample task is due on first pass, link task after full period
	a.sample = timebase.NewInterval(timebase.Millis(a.config.SampleInterval), now-timebase.Millis(a.config.SampleInterval))
	a.link = timebase.NewInterval(timebase.Millis(a.config.LinkInterval), now)
	a.haltReport = timebase.NewInterval(timebase.Millis(a.config.HaltInterval), now)
	a.started = true

	if err := a.sensor.Initialize(ctx); err != nil {
		a.halt(err)
		return errors.Annotate(err, "agent start")
	}
	a.Log.Infof("sensor ready")

	if err := a.net.Connect(ctx); err != nil {
		a.Log.Errorf("initial network connect failed, will retry err=%v", err)
	}
	a.led()
	a.notify(daemon.SdNotifyReady)
	return nil
}

func (a *Agent) halt(err error) {
	a.haltErr = err
	atomic.StoreUint32(&a.halted, 1)
	a.Log.Errorf("sensor initialization failed, halted: %v", err)
	a.notify(daemon.SdNotifyReady)
	a.notify("STATUS=halted: " + err.Error())
}

// Step is one loop pass.
func (a *Agent) Step(ctx context.Context) {
	if !a.started {
		panic("code error agent.Step before Start")
	}
	atomic.AddUint32(&a.stat.Steps, 1)
	defer a.notify(daemon.SdNotifyWatchdog)

	now := a.clock.Now()
	if a.Halted() {
		a.haltReport.Clamp(now)
		if a.haltReport.Due(now) {
			a.haltReport.Fire(now)
			a.Log.Errorf("halted: %v", a.haltErr)
			if a.LED != nil {
				if err := a.LED.Toggle(); err != nil {
					a.Log.Debugf("led err=%v", err)
				}
			}
		}
		return
	}

	// backwards jump would look like a huge elapsed time to modular Due
	clampSample, clampLink := a.sample.Clamp(now), a.link.Clamp(now)
	if clampSample || clampLink {
		atomic.AddUint32(&a.stat.Clamps, 1)
		a.Log.Errorf("clock went backwards now=%d sample=(%s) link=(%s)", now, a.sample, a.link)
	}

	if a.sample.Due(now) {
		a.runSample(ctx)
		a.sample.Fire(now)
	}
	// sample may block up to sensor timeout plus network, take fresh tick
	now = a.clock.Now()
	if a.link.Due(now) {
		a.runLink(ctx)
		a.link.Fire(now)
	}
	a.led()
}

func (a *Agent) runSample(ctx context.Context) {
	r, err := a.sensor.ReadLatest(ctx)
	if err != nil {
		atomic.AddUint32(&a.stat.SampleErrors, 1)
		a.Log.Errorf("sensor read err=%v", err)
		return
	}
	atomic.AddUint32(&a.stat.Samples, 1)
	a.Log.Infof("%s", r)
	if err = a.reporter.Report(ctx, r); err != nil {
		atomic.AddUint32(&a.stat.ReportErrors, 1)
		a.Log.Errorf("report err=%v", err)
	}
}

func (a *Agent) runLink(ctx context.Context) {
	atomic.AddUint32(&a.stat.LinkChecks, 1)
	if err := a.net.CheckLink(ctx); err != nil {
		atomic.AddUint32(&a.stat.LinkErrors, 1)
		a.Log.Errorf("link check err=%v", err)
	}
}

// Run calls Start then Step until stopped via alive or ctx.
// Halted agent keeps running and reporting.
func (a *Agent) Run(ctx context.Context, al *alive.Alive) {
	if !al.Add(1) {
		return
	}
	defer al.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-al.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.Start(ctx); err != nil {
		a.Log.Debugf("start: %s", errors.ErrorStack(err))
	}
	for al.IsRunning() && ctx.Err() == nil {
		a.Step(ctx)
		if err := a.config.Sleep(ctx, a.config.Yield); err != nil {
			break
		}
	}
	a.Log.Infof("loop stopped steps=%d", atomic.LoadUint32(&a.stat.Steps))
	if a.LED != nil {
		_ = a.LED.Set(false)
	}
}

// led shows link state: on when connected.
func (a *Agent) led() {
	if a.LED == nil {
		return
	}
	if err := a.LED.Set(a.net.Connected()); err != nil {
		a.Log.Debugf("led err=%v", err)
	}
}

func (a *Agent) notify(state string) {
	if a.Notify != nil {
		a.Notify(state)
	}
}

func (a *Agent) String() string {
	s := fmt.Sprintf("steps=%d samples=%d sample_errors=%d report_errors=%d link_checks=%d",
		atomic.LoadUint32(&a.stat.Steps), atomic.LoadUint32(&a.stat.Samples),
		atomic.LoadUint32(&a.stat.SampleErrors), atomic.LoadUint32(&a.stat.ReportErrors),
		atomic.LoadUint32(&a.stat.LinkChecks))
	if a.Halted() {
		s = "halted " + s
	}
	return s
}

// SystemdNotify sends state to systemd, no-op outside systemd.
func SystemdNotify(log *log2.Log) NotifyFunc {
	return func(state string) {
		if _, err := daemon.SdNotify(false, state); err != nil {
			log.Errorf("sdnotify state=%s err=%v", state, err)
		}
	}
}
