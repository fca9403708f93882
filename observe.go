package lix

import (
	"context"

	"github.com/lixdb/lix/internal/commitstream"
)

// observeStream adapts a commitstream.Stream[Batch] into a
// commitstream.Stream[ObserveResult] by re-running q once per batch. The
// first Next call delivers the query's current result immediately, before
// any commit has arrived, so a caller always sees an initial value.
type observeStream struct {
	l       *Lix
	q       Query
	commits commitstream.Stream[commitstream.Batch]
	primed  bool
}

func newObserveStream(l *Lix, q Query) *observeStream {
	return &observeStream{
		l:       l,
		q:       q,
		commits: l.hub.Subscribe(commitstream.Filter{}),
	}
}

func (o *observeStream) Next(ctx context.Context) (ObserveResult, bool, error) {
	if !o.primed {
		o.primed = true
		res, err := o.l.Execute(ctx, o.q.SQL, o.q.Params, &ExecOptions{})
		return ObserveResult{Result: res, Err: err}, true, nil
	}
	_, ok, err := o.commits.Next(ctx)
	if err != nil || !ok {
		return ObserveResult{}, ok, err
	}
	res, execErr := o.l.Execute(ctx, o.q.SQL, o.q.Params, &ExecOptions{})
	return ObserveResult{Result: res, Err: execErr}, true, nil
}

func (o *observeStream) Close() error {
	return o.commits.Close()
}
