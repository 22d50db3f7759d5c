// Package engine composes small named actions for diagnostic command lines.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envtele/helpers"
	"github.com/temoto/envtele/log2"
)

const FmtErrContext = "`%s`" // errors.Annotatef(err, FmtErrContext, doer.String())

type Doer interface {
	Do(context.Context) error
	String() string // for logs
}

type Nothing struct{ Name string }

func (self Nothing) Do(ctx context.Context) error { return nil }
func (self Nothing) String() string               { return self.Name }

type Func struct {
	Name string
	F    func(context.Context) error
}

func (self Func) Do(ctx context.Context) error { return self.F(ctx) }
func (self Func) String() string               { return self.Name }

// Sleep returns early with ctx error.
type Sleep struct{ time.Duration }

func (self Sleep) Do(ctx context.Context) error {
	return helpers.SleepCtx(ctx, self.Duration)
}
func (self Sleep) String() string { return fmt.Sprintf("Sleep(%v)", self.Duration) }

type RepeatN struct {
	N uint
	D Doer
}

func (self RepeatN) Do(ctx context.Context) error {
	log := log2.ContextValueLogger(ctx)
	var err error
	for i := uint(1); i <= self.N && err == nil; i++ {
		log.Debugf("engine loop %d/%d", i, self.N)
		err = self.D.Do(ctx)
	}
	return errors.Annotatef(err, FmtErrContext, self.String())
}
func (self RepeatN) String() string {
	return fmt.Sprintf("RepeatN(N=%d D=%s)", self.N, self.D.String())
}

type Fail struct{ E error }

func (self Fail) Do(ctx context.Context) error { return self.E }
func (self Fail) String() string               { return self.E.Error() }
