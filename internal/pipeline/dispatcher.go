package pipeline

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"oralgrader/internal/model"
)

type Handler interface {
	Handle(ctx context.Context, ev model.InboundEvent) (Stage, error)
}

// Dispatcher runs every event in its own goroutine, at most limit at a time.
type Dispatcher struct {
	handler Handler
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	log     logrus.FieldLogger
}

func NewDispatcher(handler Handler, limit int64, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{
		handler: handler,
		sem:     semaphore.NewWeighted(limit),
		log:     log.WithField("component", "dispatcher"),
	}
}

// Dispatch blocks only while all slots are busy. The event itself runs detached
// from ctx's cancellation so a finished webhook request or a stopping poller
// does not abort work already accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.InboundEvent) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		if _, err := d.handler.Handle(context.WithoutCancel(ctx), ev); err != nil {
			d.log.WithError(err).WithField("kind", ev.Kind()).Debug("event ended in failure")
		}
	}()
	return nil
}

// Wait blocks until every dispatched event has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
