// Package cli runs interactive diagnostic shells: go-prompt on a terminal,
// plain line reader for scripts piped to stdin.
package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

type ExecFunc func(line string) error
type CompleteFunc = prompt.Completer

// MainLoop reads commands until EOF or signal.
// Interactive errors are printed by exec itself and never stop the loop.
// Script mode stops at first error and returns it, so exit code reflects failure.
// onSignal runs before exit, use it to release hardware.
func MainLoop(tag string, exec ExecFunc, complete CompleteFunc, onSignal func()) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		<-signalCh
		if onSignal != nil {
			onSignal()
		}
		os.Exit(1)
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		p := prompt.New(
			func(line string) { _ = exec(line) },
			complete,
			prompt.OptionTitle(tag),
			prompt.OptionPrefix(tag+"> "),
		)
		p.Run()
		return nil
	}
	return ReadScript(os.Stdin, exec)
}

// ReadScript executes non-empty lines from r, # starts comment line.
func ReadScript(r io.Reader, exec ExecFunc) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := exec(line); err != nil {
			return errors.Annotatef(err, "line %d '%s'", lineNo, line)
		}
	}
	return errors.Trace(scanner.Err())
}
