package engine

import (
	"context"

	"github.com/juju/errors"
)

const seqBuffer uint = 8

// Sequence executor. Error in one action aborts whole group.
// Build with NewSeq().Append()
type Seq struct {
	name  string
	_b    [seqBuffer]Doer
	items []Doer
}

func NewSeq(name string) *Seq {
	seq := &Seq{name: name}
	seq.items = seq._b[:0]
	return seq
}

func (seq *Seq) Append(d Doer) *Seq {
	seq.items = append(seq.items, d)
	return seq
}

func (seq *Seq) Len() int { return len(seq.items) }

func (seq *Seq) Do(ctx context.Context) error {
	for _, d := range seq.items {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		if err := d.Do(ctx); err != nil {
			return errors.Annotatef(err, FmtErrContext, d.String())
		}
	}
	return nil
}

func (seq *Seq) String() string {
	return seq.name
}
