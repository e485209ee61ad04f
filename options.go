package tableq

import "time"

const (
	defaultPollingIntervalMillis = 1000
	defaultContentionRetries     = 3
	defaultMaxRetries            = 3
)

type options struct {
	codec             MapCodec
	clock             func() time.Time
	createSchema      bool
	contentionRetries uint64
}

func defaultOptions() options {
	return options{
		codec:             JSONMapCodec{},
		clock:             time.Now,
		contentionRetries: defaultContentionRetries,
	}
}

// Option configures a Client.
type Option func(*options)

// WithMapCodec sets the codec used for the headers and properties columns.
func WithMapCodec(codec MapCodec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithClock sets the clock used to evaluate delayed_until.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithCreateSchema makes NewClient create the queue table if it is missing.
func WithCreateSchema(create bool) Option {
	return func(o *options) {
		o.createSchema = create
	}
}

// WithContentionRetries bounds how many times a claim that lost a
// compare-and-delete race is retried before it reports no message. Only used
// on engines without row locks.
func WithContentionRetries(n uint64) Option {
	return func(o *options) {
		o.contentionRetries = n
	}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithPollingInterval sets the wait between unsuccessful claims in Receive.
func WithPollingInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.SetPollingInterval(d.Milliseconds())
	}
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithMaxRetries sets how many times a failed insert is retried.
func WithMaxRetries(n uint64) ProducerOption {
	return func(p *Producer) {
		p.maxRetries = n
	}
}

type sendOptions struct {
	priority   int
	delay      time.Duration
	headers    map[string]string
	properties map[string]string
}

// SendOption configures a single Send.
type SendOption func(*sendOptions)

// WithPriority sets the message priority. Higher priorities are claimed first.
func WithPriority(p int) SendOption {
	return func(o *sendOptions) {
		o.priority = p
	}
}

// WithDelay hides the message from consumers until the delay has passed.
// The delay has one second resolution.
func WithDelay(d time.Duration) SendOption {
	return func(o *sendOptions) {
		o.delay = d
	}
}

func WithHeaders(h map[string]string) SendOption {
	return func(o *sendOptions) {
		o.headers = h
	}
}

func WithProperties(p map[string]string) SendOption {
	return func(o *sendOptions) {
		o.properties = p
	}
}
