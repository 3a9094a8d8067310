package transport

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Dispatcher receives demultiplexed messages for a single object. The
// pager type implements this.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Demux reads a single Inbox and routes every message to the
// Dispatcher responsible for it, fanning out one goroutine per distinct
// object key so independent objects make progress in parallel while a
// single object's messages still arrive at Dispatch in the order they
// were read from the channel (the sequencer inside Dispatch enforces
// the rest).
type Demux struct {
	// KeyOf extracts the routing key (e.g. the control Endpoint) for a
	// message.
	KeyOf func(Message) any
	// Lookup resolves a routing key to the Dispatcher for that object.
	Lookup func(key any) (Dispatcher, bool)
}

// Run drains in until it closes or ctx is cancelled, dispatching every
// message. It returns the first dispatch error encountered, after all
// in-flight dispatches for other objects have settled.
func (d *Demux) Run(ctx context.Context, in <-chan Message) error {
	group, ctx := errgroup.WithContext(ctx)
	queues := make(map[any]chan Message)

	// finish closes every per-object queue so its dispatch loop exits,
	// then waits for all of them.
	finish := func() error {
		for _, q := range queues {
			close(q)
		}
		queues = nil
		return group.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			return finish()
		case msg, ok := <-in:
			if !ok {
				return finish()
			}

			key := d.KeyOf(msg)

			q, exists := queues[key]
			if !exists {
				dispatcher, ok := d.Lookup(key)
				if !ok {
					// No object claims this key; drop the message the
					// way an unrecognized message id is dropped by the
					// sequencer — sequencing itself is per-object and
					// unaffected by traffic nobody owns.
					continue
				}

				q = make(chan Message, 16)
				queues[key] = q

				group.Go(func() error {
					for m := range q {
						if err := dispatcher.Dispatch(ctx, m); err != nil {
							return err
						}
					}
					return nil
				})
			}

			select {
			case q <- msg:
			case <-ctx.Done():
				return finish()
			}
		}
	}
}
