// envtele samples temperature and humidity from SHT3x sensor and posts readings
// to HTTP collector over any open WiFi network it can find.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/envtele/internal/agent"
	"github.com/temoto/envtele/internal/state"
	"github.com/temoto/envtele/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

func main() {
	flagConfig := flag.String("config", "", "optional config file, built-in defaults without it")
	flagVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *flagVersion {
		fmt.Println(BuildVersion)
		return
	}

	log := log2.NewStderr(log2.LInfo)
	if sdnotify(log, "start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	names := []string{}
	if *flagConfig != "" {
		names = append(names, *flagConfig)
	}
	config := state.MustReadConfig(log, state.NewOsFullReader(), names...)

	g := state.NewGlobal(log, BuildVersion)
	ctx := g.Context(context.Background())
	g.MustInit(ctx, config)
	g.Agent.Notify = agent.SystemdNotify(log)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Infof("signal=%v, stopping", s)
		sdnotify(log, daemon.SdNotifyStopping)
		g.Stop()
	}()

	g.Run(ctx)
	g.Stop()
	g.Alive.Wait()
	if err := g.Close(); err != nil {
		log.Errorf("close: %v", err)
	}
	log.Infof("bye %s", g.Agent)
}

func sdnotify(log *log2.Log, s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
