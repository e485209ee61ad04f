package tableq

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/tableq/internal"
	"github.com/mattbonnell/tableq/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Producer inserts messages into one queue.
type Producer struct {
	db         *sqlx.DB
	queue      string
	codec      MapCodec
	clock      func() time.Time
	maxRetries uint64
}

func newProducer(db *sqlx.DB, queue string, o options, opts ...ProducerOption) *Producer {
	p := &Producer{
		db:         db,
		queue:      queue,
		codec:      o.codec,
		clock:      o.clock,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Producer) Queue() string {
	return p.queue
}

// Send inserts a message carrying body, which must be UTF-8 text without NUL
// bytes. Failed inserts are retried with exponential backoff; consistency
// faults are not.
func (p *Producer) Send(ctx context.Context, body []byte, opts ...SendOption) error {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	r, err := p.row(body, o)
	if err != nil {
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.maxRetries), ctx)
	if err := backoff.Retry(func() error { return p.pushMessage(ctx, r) }, b); err != nil {
		log.Err(err).Msgf("error sending message to queue %s", p.queue)
		return err
	}
	metrics.MessagesSent.WithLabelValues(p.queue).Inc()
	return nil
}

func (p *Producer) row(body []byte, o sendOptions) (internal.Row, error) {
	if !utf8.Valid(body) || bytes.IndexByte(body, 0) >= 0 {
		return internal.Row{}, fmt.Errorf("%w: body must be UTF-8 text without NUL bytes", ErrInvalidBody)
	}
	r := internal.Row{
		Queue:    p.queue,
		Body:     string(body),
		Priority: int64(o.priority),
	}
	if o.delay > 0 {
		r.DelayedUntil = sql.NullInt64{Int64: p.clock().Add(o.delay).Unix(), Valid: true}
	}
	var err error
	if r.Headers, err = encodeMap(o.headers, p.codec); err != nil {
		return r, fmt.Errorf("error encoding headers: %w", err)
	}
	if r.Properties, err = encodeMap(o.properties, p.codec); err != nil {
		return r, fmt.Errorf("error encoding properties: %w", err)
	}
	return r, nil
}

func (p *Producer) pushMessage(ctx context.Context, r internal.Row) error {
	log.Debug().Msgf("pushing message onto queue %s", p.queue)
	if err := insertRow(ctx, p.db, r); err != nil {
		if isConsistencyFault(err) {
			return backoff.Permanent(err)
		}
		log.Debug().Err(err).Msg("error pushing message")
		return err
	}
	log.Debug().Msgf("successfully pushed message onto queue %s", p.queue)
	return nil
}
