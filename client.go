package tableq

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/tableq/internal"
	"github.com/rs/zerolog/log"
)

// Client creates consumers and producers sharing one database handle. The
// handle is owned by the caller, who opens and closes it; the client never
// closes it.
type Client struct {
	db      *sqlx.DB
	dialect internal.Dialect
	opts    options
}

func NewClient(db *sqlx.DB, opts ...Option) (*Client, error) {
	log.Debug().Msg("creating new client")
	c := Client{db: db, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&c.opts)
	}
	if err := c.db.Ping(); err != nil {
		err = fmt.Errorf("couldn't connect to db: %w", err)
		log.Debug().Msg(err.Error())
		return nil, err
	}
	d, err := internal.GetDialect(db.DriverName())
	if err != nil {
		return nil, err
	}
	c.dialect = d
	if c.opts.createSchema {
		if err := internal.CreateSchema(c.db); err != nil {
			err = fmt.Errorf("error creating schema: %w", err)
			log.Debug().Msg(err.Error())
			return nil, err
		}
	}
	log.Debug().Msgf("client created for driver %s", d.Name)
	return &c, nil
}

func (c *Client) NewConsumer(queue string, opts ...ConsumerOption) (*Consumer, error) {
	if queue == "" {
		return nil, errors.New("queue name must not be empty")
	}
	cl := newClaimer(c.db, c.dialect, c.opts)
	rq := &requeuer{db: c.db, codec: c.opts.codec}
	return newConsumer(queue, cl, rq, opts...), nil
}

func (c *Client) NewProducer(queue string, opts ...ProducerOption) (*Producer, error) {
	if queue == "" {
		return nil, errors.New("queue name must not be empty")
	}
	return newProducer(c.db, queue, c.opts, opts...), nil
}
