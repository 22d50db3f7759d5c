// sht-cli is interactive shell for SHT3x sensor and WiFi diagnostics.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/envtele/hardware/i2c"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/helpers/cli"
	"github.com/temoto/envtele/internal/engine"
	"github.com/temoto/envtele/internal/state"
	"github.com/temoto/envtele/log2"
)

const usage = `syntax: commands separated by whitespace
(sensor)
- scan      probe every I2C address, show acknowledging ones
- init      find sensor, soft reset, start periodic measurement
- read      fetch latest measurement
- status    show status register
- clear     clear status register alerts
- stop      leave periodic mode
- @XXXX     send 16-bit command from hex XXXX
- @XXXX:N   send command, then read N bytes

(network)
- wifi      scan networks, show which are acceptable
- connect   join first acceptable open network
- send      read sensor and post reading to endpoint

(meta)
- sN        pause N milliseconds
- log=yes   enable debug logging
- log=no    disable debug logging
- loop=N    repeat N times all commands on this line
`

var log = log2.NewStderr(log2.LDebug)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := cmdline.String("config", "", "optional config file, flags below override it")
	driver := cmdline.String("driver", "", "i2c driver periph|ioctl")
	bus := cmdline.String("bus", "", "i2c bus name or number")
	addr := cmdline.Uint("addr", 0, "preferred sensor address")
	iface := cmdline.String("iface", "", "wifi interface")
	endpoint := cmdline.String("endpoint", "", "report URL for send command")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	names := []string{}
	if *configPath != "" {
		names = append(names, *configPath)
	}
	config := state.MustReadConfig(log, state.NewOsFullReader(), names...)
	if *driver != "" {
		config.Hardware.I2C.Driver = *driver
	}
	if *bus != "" {
		config.Hardware.I2C.Bus = *bus
	}
	if *addr != 0 {
		config.Hardware.I2C.Address = int(*addr)
	}
	if *iface != "" {
		config.Hardware.Wifi.Iface = *iface
	}
	if *endpoint != "" {
		config.Report.Endpoint = *endpoint
	}
	if err := config.Validate(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	g := state.NewGlobal(log, "sht-cli")
	ctx := g.Context(context.Background())
	g.MustInit(ctx, config)
	defer g.Close()

	err := cli.MainLoop("envtele-sht-cli", newExecutor(ctx), newCompleter(), func() { _ = g.Close() })
	if err != nil {
		g.Close()
		log.Fatal(errors.ErrorStack(err))
	}
}

var doUsage = engine.Func{Name: "help", F: func(ctx context.Context) error {
	log.Infof(usage)
	return nil
}}
var doLogYes = engine.Func{Name: "log=yes", F: func(ctx context.Context) error {
	state.GetGlobal(ctx).Log.SetLevel(log2.LDebug)
	return nil
}}
var doLogNo = engine.Func{Name: "log=no", F: func(ctx context.Context) error {
	state.GetGlobal(ctx).Log.SetLevel(log2.LInfo)
	return nil
}}

var doScan = engine.Func{Name: "scan", F: func(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	bus, err := g.I2CBus()
	if err != nil {
		return err
	}
	found := i2c.Scan(bus, i2c.AddrMin, i2c.AddrMax)
	g.Log.Infof("%s found=%x", bus.String(), found)
	return nil
}}

var doInit = engine.Func{Name: "init", F: func(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	s, err := g.Sensor()
	if err != nil {
		return err
	}
	if err = s.Initialize(ctx); err != nil {
		return err
	}
	g.Log.Infof("sensor addr=%02x status=%s", s.Address(), s.Status())
	return nil
}}

var doRead = engine.Func{Name: "read", F: func(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	s, err := g.Sensor()
	if err != nil {
		return err
	}
	r, err := s.ReadLatest(ctx)
	if err != nil {
		return err
	}
	g.Log.Infof("%s", r)
	return nil
}}

var doStatus = engine.Func{Name: "status", F: func(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	s, err := g.Sensor()
	if err != nil {
		return err
	}
	st, err := s.ReadStatus()
	if err != nil {
		return err
	}
	g.Log.Infof("status=%04x %s", uint16(st), st)
	return nil
}}

var doClear = engine.Func{Name: "clear", F: func(ctx context.Context) error {
	s, err := state.GetGlobal(ctx).Sensor()
	if err != nil {
		return err
	}
	return s.ClearStatus()
}}

var doStop = engine.Func{Name: "stop", F: func(ctx context.Context) error {
	s, err := state.GetGlobal(ctx).Sensor()
	if err != nil {
		return err
	}
	return s.Stop()
}}

var doWifi = engine.Func{Name: "wifi", F: func(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	networks, err := g.WifiRadio().Scan(ctx)
	if err != nil {
		return err
	}
	for _, n := range networks {
		g.Log.Infof("%s acceptable=%t", n, g.Network.Acceptable(n))
	}
	return nil
}}

var doConnect = engine.Func{Name: "connect", F: func(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	if err := g.Network.Connect(ctx); err != nil {
		return err
	}
	g.Log.Infof("connected ssid=%s rssi=%d", g.Network.SSID(), g.Network.RSSI())
	return nil
}}

var doSend = engine.Func{Name: "send", F: func(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	s, err := g.Sensor()
	if err != nil {
		return err
	}
	r, err := s.ReadLatest(ctx)
	if err != nil {
		return err
	}
	if err = g.Reporter.Report(ctx, r); err != nil {
		return err
	}
	g.Log.Infof("sent %s to %s", r, g.Reporter.Endpoint())
	return nil
}}

func newCompleter() cli.CompleteFunc {
	suggests := []prompt.Suggest{
		{Text: "help", Description: "show commands"},
		{Text: "scan", Description: "probe I2C addresses"},
		{Text: "init", Description: "initialize sensor"},
		{Text: "read", Description: "fetch measurement"},
		{Text: "status", Description: "show status register"},
		{Text: "clear", Description: "clear status register"},
		{Text: "stop", Description: "stop periodic measurement"},
		{Text: "wifi", Description: "scan networks"},
		{Text: "connect", Description: "join open network"},
		{Text: "send", Description: "read and post to endpoint"},
		{Text: "sN", Description: "pause for N ms"},
		{Text: "loop=N", Description: "repeat line N times"},
		{Text: "@XXXX:N", Description: "send command, read N bytes"},
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context) cli.ExecFunc {
	g := state.GetGlobal(ctx)
	return func(line string) error {
		d, err := parseLine(line)
		if err != nil {
			g.Log.Errorf(errors.ErrorStack(err))
			return err
		}
		err = d.Do(ctx)
		if err != nil {
			g.Log.Errorf(errors.ErrorStack(err))
		}
		return err
	}
}

func newTx(cmd uint16, n int) engine.Doer {
	return engine.Func{Name: "tx:" + strconv.FormatUint(uint64(cmd), 16), F: func(ctx context.Context) error {
		g := state.GetGlobal(ctx)
		s, err := g.Sensor()
		if err != nil {
			return err
		}
		response, err := s.Tx(cmd, n)
		if err != nil {
			return err
		}
		g.Log.Infof("< %x", response)
		return nil
	}}
}

func parseLine(line string) (engine.Doer, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return engine.Nothing{}, nil
	}

	// pre-parse special commands
	loopn := uint(0)
	wordsRest := make([]string, 0, len(words))
	for _, word := range words {
		switch {
		case word == "help":
			return doUsage, nil
		case strings.HasPrefix(word, "loop="):
			if loopn != 0 {
				return nil, errors.Errorf("multiple loop commands, expected at most one")
			}
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				return nil, errors.Annotatef(err, "word=%s", word)
			}
			loopn = uint(i)
		default:
			wordsRest = append(wordsRest, word)
		}
	}

	tx := engine.NewSeq("input:" + line)
	for _, word := range wordsRest {
		d, err := parseCommand(word)
		if err != nil {
			return nil, err
		}
		tx.Append(d)
	}

	if loopn != 0 {
		return engine.RepeatN{N: loopn, D: tx}, nil
	}
	return tx, nil
}

var simpleCommands = map[string]engine.Doer{
	"log=yes": doLogYes,
	"log=no":  doLogNo,
	"scan":    doScan,
	"init":    doInit,
	"read":    doRead,
	"status":  doStatus,
	"clear":   doClear,
	"stop":    doStop,
	"wifi":    doWifi,
	"connect": doConnect,
	"send":    doSend,
}

func parseCommand(word string) (engine.Doer, error) {
	if d, ok := simpleCommands[word]; ok {
		return d, nil
	}
	switch {
	case word[0] == 's':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		return engine.Sleep{Duration: time.Duration(i) * time.Millisecond}, nil
	case word[0] == '@':
		return parseTx(word[1:])
	default:
		return nil, errors.Errorf("error: invalid command: '%s'", word)
	}
}

// parseTx accepts XXXX or XXXX:N
func parseTx(s string) (engine.Doer, error) {
	n := 0
	if i := strings.IndexByte(s, ':'); i >= 0 {
		x, err := strconv.ParseUint(s[i+1:], 10, 8)
		if err != nil {
			return nil, errors.Annotatef(err, "read length='%s'", s[i+1:])
		}
		n, s = int(x), s[:i]
	}
	b, err := helpers.ParseHex(s)
	if err != nil {
		return nil, errors.Annotatef(err, "command hex='%s'", s)
	}
	if len(b) != 2 {
		return nil, errors.NotValidf("command hex='%s' length=%d expected 2 bytes", s, len(b))
	}
	return newTx(binary.BigEndian.Uint16(b), n), nil
}
