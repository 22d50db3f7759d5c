package state

import (
	"net"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/envtele/hardware/i2c"
	"github.com/temoto/envtele/hardware/sht3x"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/internal/agent"
	"github.com/temoto/envtele/internal/netman"
	"github.com/temoto/envtele/internal/report"
	"github.com/temoto/envtele/log2"
)

// Config zero values mean compiled-in defaults, so agent runs without any file.
type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Hardware struct {
		I2C struct {
			Driver        string `hcl:"driver"` // periph | ioctl
			Bus           string `hcl:"bus"`
			Address       int    `hcl:"address"`
			Rate          string `hcl:"rate"`
			Repeatability string `hcl:"repeatability"`
			SettleMs      int    `hcl:"settle_ms"`
			PollMs        int    `hcl:"poll_ms"`
			ReadTimeoutMs int    `hcl:"read_timeout_ms"`
		} `hcl:"i2c"`
		Wifi struct {
			Iface string `hcl:"iface"`
		} `hcl:"wifi"`
		LED struct {
			Enable  bool   `hcl:"enable"`
			PinChip string `hcl:"pin_chip"`
			Pin     int    `hcl:"pin"`
		} `hcl:"led"`
	} `hcl:"hardware"`

	Network struct {
		AcceptRSSI    int `hcl:"accept_rssi"`
		DegradeRSSI   int `hcl:"degrade_rssi"`
		JoinTimeoutMs int `hcl:"join_timeout_ms"`
		JoinPollMs    int `hcl:"join_poll_ms"`
		ResetPauseMs  int `hcl:"reset_pause_ms"`
		RescanPauseMs int `hcl:"rescan_pause_ms"`
	} `hcl:"network"`

	Report struct {
		Endpoint       string `hcl:"endpoint"`
		TimeoutMs      int    `hcl:"timeout_ms"`
		KeyTemperature string `hcl:"key_temperature"`
		KeyHumidity    string `hcl:"key_humidity"`
	} `hcl:"report"`

	Agent struct {
		SampleIntervalMs int `hcl:"sample_interval_ms"`
		LinkIntervalMs   int `hcl:"link_interval_ms"`
		HaltIntervalMs   int `hcl:"halt_interval_ms"`
		YieldMs          int `hcl:"yield_ms"`
	} `hcl:"agent"`

	Status struct {
		Listen string `hcl:"listen"` // empty disables diagnostics server
	} `hcl:"status"`

	LogDebug bool `hcl:"log_debug"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

const (
	DefaultLEDChip = "/dev/gpiochip0"
	DefaultIface   = "wlan0"
)

func (c *Config) SensorConfig() (sht3x.Config, error) {
	hc := &c.Hardware.I2C
	rate, err := sht3x.ParseRate(hc.Rate)
	if err != nil {
		return sht3x.Config{}, errors.Annotate(err, "config: hardware.i2c.rate")
	}
	rep, err := sht3x.ParseRepeatability(hc.Repeatability)
	if err != nil {
		return sht3x.Config{}, errors.Annotate(err, "config: hardware.i2c.repeatability")
	}
	return sht3x.Config{
		Address:       byte(hc.Address),
		Rate:          rate,
		Repeatability: rep,
		SettleDelay:   helpers.IntMillisDefault(hc.SettleMs, sht3x.DefaultSettleDelay),
		PollDelay:     helpers.IntMillisDefault(hc.PollMs, sht3x.DefaultPollDelay),
		ReadTimeout:   helpers.IntMillisDefault(hc.ReadTimeoutMs, 0),
	}, nil
}

func (c *Config) NetworkConfig() netman.Config {
	nc := &c.Network
	return netman.Config{
		AcceptRSSI:  int32(nc.AcceptRSSI),
		DegradeRSSI: int32(nc.DegradeRSSI),
		JoinTimeout: helpers.IntMillisDefault(nc.JoinTimeoutMs, netman.DefaultJoinTimeout),
		PollDelay:   helpers.IntMillisDefault(nc.JoinPollMs, netman.DefaultPollDelay),
		ResetDelay:  helpers.IntMillisDefault(nc.ResetPauseMs, netman.DefaultResetDelay),
		RescanDelay: helpers.IntMillisDefault(nc.RescanPauseMs, netman.DefaultRescanDelay),
	}
}

func (c *Config) ReportConfig() report.Config {
	rc := &c.Report
	return report.Config{
		Endpoint:       rc.Endpoint,
		Timeout:        helpers.IntMillisDefault(rc.TimeoutMs, report.DefaultTimeout),
		KeyTemperature: rc.KeyTemperature,
		KeyHumidity:    rc.KeyHumidity,
	}
}

func (c *Config) AgentConfig() agent.Config {
	ac := &c.Agent
	return agent.Config{
		SampleInterval: helpers.IntMillisDefault(ac.SampleIntervalMs, agent.DefaultSampleInterval),
		LinkInterval:   helpers.IntMillisDefault(ac.LinkIntervalMs, agent.DefaultLinkInterval),
		HaltInterval:   helpers.IntMillisDefault(ac.HaltIntervalMs, agent.DefaultHaltInterval),
		Yield:          helpers.IntMillisDefault(ac.YieldMs, agent.DefaultYield),
	}
}

func (c *Config) Iface() string {
	if c.Hardware.Wifi.Iface == "" {
		return DefaultIface
	}
	return c.Hardware.Wifi.Iface
}

func (c *Config) LEDChip() string {
	if c.Hardware.LED.PinChip == "" {
		return DefaultLEDChip
	}
	return c.Hardware.LED.PinChip
}

// Validate checks effective values, after defaults.
func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	hc := &c.Hardware.I2C
	switch hc.Driver {
	case "", i2c.DriverPeriph, i2c.DriverIoctl:
	default:
		errs = append(errs, errors.NotValidf("config: hardware.i2c.driver=%s valid: %s, %s", hc.Driver, i2c.DriverPeriph, i2c.DriverIoctl))
	}
	if hc.Address != 0 && (hc.Address < int(i2c.AddrMin) || hc.Address > int(i2c.AddrMax)) {
		errs = append(errs, errors.NotValidf("config: hardware.i2c.address=%#x", hc.Address))
	}
	if sc, err := c.SensorConfig(); err != nil {
		errs = append(errs, err)
	} else if sc.SettleDelay < sht3x.MinSettleDelay {
		errs = append(errs, errors.NotValidf("config: hardware.i2c.settle_ms=%d below %s", hc.SettleMs, sht3x.MinSettleDelay))
	}
	if c.Hardware.LED.Pin < 0 {
		errs = append(errs, errors.NotValidf("config: hardware.led.pin=%d", c.Hardware.LED.Pin))
	}

	nc := c.NetworkConfig()
	accept, degrade := nc.AcceptRSSI, nc.DegradeRSSI
	if accept == 0 {
		accept = netman.DefaultAcceptRSSI
	}
	if degrade == 0 {
		degrade = netman.DefaultDegradeRSSI
	}
	if degrade > accept {
		errs = append(errs, errors.NotValidf("config: network.degrade_rssi=%d above accept_rssi=%d", degrade, accept))
	}

	if c.Report.Endpoint != "" {
		u, err := url.Parse(c.Report.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, errors.NotValidf("config: report.endpoint=%s", c.Report.Endpoint))
		}
	}

	keyT, keyH := c.Report.KeyTemperature, c.Report.KeyHumidity
	if keyT == "" {
		keyT = report.DefaultKeyTemperature
	}
	if keyH == "" {
		keyH = report.DefaultKeyHumidity
	}
	if keyT == keyH {
		errs = append(errs, errors.NotValidf("config: report.key_temperature=key_humidity=%s", keyT))
	}

	if c.Status.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Status.Listen); err != nil {
			errs = append(errs, errors.NotValidf("config: status.listen=%s", c.Status.Listen))
		}
	}

	ac := c.AgentConfig()
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"agent.sample_interval_ms", ac.SampleInterval},
		{"agent.link_interval_ms", ac.LinkInterval},
		{"agent.halt_interval_ms", ac.HaltInterval},
		{"agent.yield_ms", ac.Yield},
		{"report.timeout_ms", c.ReportConfig().Timeout},
		{"network.join_timeout_ms", nc.JoinTimeout},
		{"network.join_poll_ms", nc.PollDelay},
	} {
		if d.v <= 0 {
			errs = append(errs, errors.NotValidf("config: %s=%s", d.name, d.v))
		}
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig reads and validates config sources in order, later values overwrite.
// No names returns defaults.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if osfs, ok := fs.(*OsFullReader); ok && len(names) != 0 {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
