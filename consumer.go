package tableq

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Consumer receives messages from one queue by polling the queue table.
//
// A message is deleted from the table in the same transaction that claims it,
// so delivery is at-most-once: a message claimed by a process that then
// crashes before handling it is lost. Acknowledge is therefore a no-op, and
// Reject with requeue inserts a fresh copy of the message.
//
// A Consumer runs one store operation at a time. Run more consumers to claim
// in parallel.
type Consumer struct {
	id                    string
	queue                 string
	claimer               *claimer
	requeuer              *requeuer
	pollingIntervalMillis atomic.Int64
}

func newConsumer(queue string, cl *claimer, rq *requeuer, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		id:       uuid.NewString(),
		queue:    queue,
		claimer:  cl,
		requeuer: rq,
	}
	c.pollingIntervalMillis.Store(defaultPollingIntervalMillis)
	for _, opt := range opts {
		opt(c)
	}
	log.Debug().Msgf("created consumer %s on queue %s", c.id, c.queue)
	return c
}

// ID returns an identifier unique to this consumer instance.
func (c *Consumer) ID() string {
	return c.id
}

func (c *Consumer) Queue() string {
	return c.queue
}

// PollingInterval returns the wait between unsuccessful claims in
// milliseconds.
func (c *Consumer) PollingInterval() int64 {
	return c.pollingIntervalMillis.Load()
}

// SetPollingInterval sets the wait between unsuccessful claims in
// milliseconds. Non-positive values restore the default of 1000.
func (c *Consumer) SetPollingInterval(millis int64) {
	if millis <= 0 {
		millis = defaultPollingIntervalMillis
	}
	c.pollingIntervalMillis.Store(millis)
}

// ReceiveNoWait makes a single claim attempt and returns nil if the queue
// has no eligible message. A claimed row that cannot be decoded is dropped and
// reported with ErrUndecodableMessage; the next call moves on to the rows
// behind it.
func (c *Consumer) ReceiveNoWait(ctx context.Context) (*Message, error) {
	return c.claimer.tryClaimNext(ctx, c.queue)
}

// Receive polls the queue until a message is claimed or timeout has elapsed,
// in which case it returns nil. A non-positive timeout waits indefinitely.
// Receive returns at most one polling interval after the timeout. Cancelling
// ctx stops the loop between claim attempts and returns ctx.Err().
// Consistency faults and ErrUndecodableMessage end the loop immediately.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	start := time.Now()
	expired := func() bool {
		return timeout > 0 && time.Since(start) >= timeout
	}
	for {
		m, err := c.claimer.tryClaimNext(ctx, c.queue)
		if err != nil || m != nil {
			return m, err
		}
		if expired() {
			return nil, nil
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		if expired() {
			return nil, nil
		}
	}
}

func (c *Consumer) wait(ctx context.Context) error {
	t := time.NewTimer(time.Duration(c.PollingInterval()) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		log.Debug().Err(ctx.Err()).Msg("stopping receive: context closed")
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acknowledge does nothing beyond validating m: the message was removed from
// the queue when it was claimed.
func (c *Consumer) Acknowledge(m *Message) error {
	return c.validate(m)
}

// Reject discards m, or puts a copy of it back on the queue marked as
// redelivered if requeue is set. The copy keeps body, headers, properties and
// priority but gets a new id.
func (c *Consumer) Reject(ctx context.Context, m *Message, requeue bool) error {
	if err := c.validate(m); err != nil {
		return err
	}
	if !requeue {
		log.Debug().Msgf("discarded message %d", m.ID)
		return nil
	}
	return c.requeuer.requeue(ctx, c.queue, m)
}

func (c *Consumer) validate(m *Message) error {
	if m == nil || m.queue != c.queue {
		return ErrInvalidMessage
	}
	return nil
}
