package tableq

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/tableq/internal/metrics"
	"github.com/rs/zerolog/log"
)

// requeuer puts rejected messages back on their queue as new rows.
type requeuer struct {
	db    *sqlx.DB
	codec MapCodec
}

func (r *requeuer) requeue(ctx context.Context, queue string, m *Message) error {
	row, err := encode(queue, m, r.codec)
	if err != nil {
		return fmt.Errorf("error encoding message %d: %w", m.ID, err)
	}
	ctx = context.WithoutCancel(ctx)
	log.Debug().Msgf("requeueing message %d on queue %s", m.ID, queue)
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning requeue transaction: %w", err)
	}
	defer tx.Rollback()
	if err := insertRow(ctx, tx, row); err != nil {
		if isConsistencyFault(err) {
			metrics.ConsistencyFaults.WithLabelValues(queue).Inc()
			log.Error().Err(err).Msgf("consistency fault requeueing message %d", m.ID)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing requeue transaction: %w", err)
	}
	metrics.MessagesRequeued.WithLabelValues(queue).Inc()
	log.Debug().Msgf("requeued message %d on queue %s", m.ID, queue)
	return nil
}
