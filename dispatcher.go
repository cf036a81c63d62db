package helpdesk

import (
	"context"
	"errors"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/panjf2000/ants/v2"
	tele "gopkg.in/telebot.v4"
)

// ErrOverloaded is returned by Dispatcher.Submit when all workers are busy.
// Telegram redelivers a webhook update after a non-2xx response.
var ErrOverloaded = errm.New("dispatcher is overloaded")

// UpdateHandler processes one update to completion.
type UpdateHandler func(ctx context.Context, upd tele.Update)

// Dispatcher runs update handlers on a bounded worker pool. Submit never blocks.
type Dispatcher struct {
	pool    *ants.Pool
	handle  UpdateHandler
	timeout time.Duration
	metrics *metrics
	log     Logger
}

// NewDispatcher creates a pool with the provided number of workers.
// Every update gets its own context with the timeout, detached from the caller.
func NewDispatcher(workers int, timeout time.Duration, handle UpdateHandler, log Logger) (*Dispatcher, error) {
	log = orNoop(log)
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			log.Error("panic in update handler", "panic", p)
		}),
	)
	if err != nil {
		return nil, errm.Wrap(err, "new pool")
	}
	return &Dispatcher{
		pool:    pool,
		handle:  handle,
		timeout: timeout,
		log:     log,
	}, nil
}

// Submit schedules the update. It returns ErrOverloaded if there is no free worker.
func (d *Dispatcher) Submit(upd tele.Update) error {
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.handle(ctx, upd)
	})
	switch {
	case errors.Is(err, ants.ErrPoolOverload):
		d.metrics.incDispatchRejected()
		d.log.Warn("no free workers, rejecting update", "update_id", upd.ID)
		return ErrOverloaded
	case err != nil:
		return errm.Wrap(err, "submit", "update_id", upd.ID)
	}
	return nil
}

// Running returns the number of updates in progress.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Shutdown waits for running handlers until ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return d.pool.ReleaseTimeout(timeout)
}
