package state

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/internal/agent"
	"github.com/temoto/envtele/internal/netman"
	"github.com/temoto/envtele/internal/report"
	"github.com/temoto/envtele/internal/status"
	"github.com/temoto/envtele/internal/timebase"
	"github.com/temoto/envtele/log2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Clock        timebase.Clock
	Config       *Config
	Hardware     hardware // hardware.go
	Log          *log2.Log

	Network  *netman.Manager
	Reporter *report.Reporter
	Agent    *agent.Agent
	Status   *status.Server

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func NewGlobal(log *log2.Log, buildVersion string) *Global {
	if log == nil {
		panic("code error NewGlobal() log=nil")
	}
	return &Global{
		Alive:        alive.NewAlive(),
		BuildVersion: buildVersion,
		Clock:        timebase.NewClock(),
		Log:          log,
	}
}

func (g *Global) Context(ctx context.Context) context.Context {
	ctx = log2.ContextWithLogger(ctx, g.Log)
	return context.WithValue(ctx, ContextKey, g)
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Init builds agent from config. Hardware is opened here, sensor is not touched until agent Start.
// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	g.Log.Infof("build version=%s", g.BuildVersion)
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	sensor, err := g.Sensor()
	if err != nil {
		return errors.Annotate(err, "sensor")
	}
	g.Network = netman.New(g.WifiRadio(), cfg.NetworkConfig(), g.Log)
	g.Reporter = report.New(g.Network, cfg.ReportConfig(), g.Log)
	g.Log.Infof("report endpoint=%s", g.Reporter.Endpoint())
	g.Agent = agent.New(sensor, g.Network, g.Reporter, g.Clock, cfg.AgentConfig(), g.Log)
	g.Status = status.New(status.Source{
		Version:  g.BuildVersion,
		Agent:    g.Agent,
		Network:  g.Network,
		Reporter: g.Reporter,
		Sensor:   sensor,
	}, g.Log)
	g.Log.SetErrorFunc(g.Status.RecordError)

	l, err := g.StatusLED()
	if err != nil {
		// status light is cosmetic
		g.Error(err)
	} else if l != nil {
		g.Agent.LED = l
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

// Run blocks in agent loop until Stop. Diagnostics server runs alongside when configured,
// its failure is logged and never stops the agent.
func (g *Global) Run(ctx context.Context) {
	if g.Agent == nil {
		panic("code error Global.Run before Init")
	}
	if listen := g.Config.Status.Listen; listen != "" {
		go func() {
			if err := g.Status.ListenAndServe(listen, g.Alive); err != nil {
				g.Error(err)
			}
		}()
	}
	g.Agent.Run(ctx, g.Alive)
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close releases hardware opened by Init. Sensor is put back to idle.
// Repeated Close is no-op.
func (g *Global) Close() error {
	errs := make([]error, 0, 3)
	if s := g.Hardware.Sensor.s; s != nil && s.Initialized() {
		errs = append(errs, s.Stop())
	}
	if l := g.Hardware.LED.l; l != nil {
		errs = append(errs, l.Close())
		g.Hardware.LED.l = nil
	}
	if b := g.Hardware.I2C.Bus; b != nil {
		errs = append(errs, b.Close())
		g.Hardware.I2C.Bus = nil
	}
	return helpers.FoldErrors(errs)
}
