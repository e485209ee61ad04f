package tableq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/tableq/internal"
	"github.com/mattbonnell/tableq/internal/metrics"
	"github.com/rs/zerolog/log"
)

const contentionWaitMillis = 10

// claimer removes the highest priority eligible row of a queue in a single
// transaction.
//
// On engines with row locks the SELECT takes an exclusive lock, so concurrent
// claimants block on the row and then either find it gone or move on. On
// engines without them the DELETE is the compare step: zero affected rows means
// another consumer won, and the claim is retried.
type claimer struct {
	db                *sqlx.DB
	selectQuery       string
	deleteQuery       string
	rowLocks          bool
	codec             MapCodec
	clock             func() time.Time
	contentionRetries uint64
}

func newClaimer(db *sqlx.DB, d internal.Dialect, opts options) *claimer {
	return &claimer{
		db:                db,
		selectQuery:       db.Rebind(lockingClaimQuery(d)),
		deleteQuery:       db.Rebind(deleteQuery),
		rowLocks:          d.RowLocks(),
		codec:             opts.codec,
		clock:             opts.clock,
		contentionRetries: opts.contentionRetries,
	}
}

// tryClaimNext claims the next message of queue, or returns nil if there is
// none. Store errors are absorbed and reported as no message. Consistency
// faults are returned, as is ErrUndecodableMessage for a row that was removed
// but could not be decoded.
func (c *claimer) tryClaimNext(ctx context.Context, queue string) (*Message, error) {
	// a started claim always runs to commit or rollback
	ctx = context.WithoutCancel(ctx)
	var m *Message
	err := backoff.Retry(func() error {
		var err error
		m, err = c.claim(ctx, queue)
		if err == nil {
			return nil
		}
		if errors.Is(err, errClaimContended) {
			log.Debug().Msgf("lost claim race on queue %s, retrying", queue)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond*contentionWaitMillis), c.contentionRetries))

	switch {
	case err == nil && m == nil:
		metrics.EmptyPolls.WithLabelValues(queue).Inc()
		return nil, nil
	case err == nil:
		metrics.MessagesClaimed.WithLabelValues(queue).Inc()
		return m, nil
	case errors.Is(err, ErrConsistencyFault):
		metrics.ConsistencyFaults.WithLabelValues(queue).Inc()
		log.Error().Err(err).Msgf("consistency fault claiming from queue %s", queue)
		return nil, err
	case errors.Is(err, ErrUndecodableMessage):
		metrics.UndecodableMessages.WithLabelValues(queue).Inc()
		log.Error().Err(err).Msgf("discarded undecodable message from queue %s", queue)
		return nil, err
	default:
		metrics.TransientErrors.WithLabelValues(queue).Inc()
		log.Debug().Err(err).Msgf("claim from queue %s failed, reporting no message", queue)
		return nil, nil
	}
}

func (c *claimer) claim(ctx context.Context, queue string) (*Message, error) {
	now := c.clock().Unix()
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var r internal.Row
	if err := tx.GetContext(ctx, &r, c.selectQuery, queue, now); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("error selecting message: %w", err)
		}
		log.Debug().Msgf("no messages to claim on queue %s", queue)
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("error committing claim transaction: %w", err)
		}
		return nil, nil
	}
	log.Debug().Msgf("selected message %d", r.ID)

	res, err := tx.ExecContext(ctx, c.deleteQuery, r.ID)
	if err != nil {
		return nil, fmt.Errorf("error deleting message %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("error reading rows affected by delete: %w", err)
	}
	if n == 0 && !c.rowLocks {
		return nil, errClaimContended
	}
	if n != 1 {
		return nil, fmt.Errorf("%w: deleting message %d affected %d rows", ErrConsistencyFault, r.ID, n)
	}

	// an undecodable row is still removed so it cannot block the queue
	m, decodeErr := decode(r, c.codec)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing claim transaction: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: message %d: %v", ErrUndecodableMessage, r.ID, decodeErr)
	}
	log.Debug().Msgf("claimed message %d from queue %s", m.ID, queue)
	return m, nil
}
