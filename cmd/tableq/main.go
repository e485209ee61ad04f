package main

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mattbonnell/tableq"
	"github.com/mattbonnell/tableq/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd := &cobra.Command{
		Use:   "tableq",
		Short: "Send to and consume from a database-backed queue",
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("TABLEQ_CONFIG"), "YAML config file (defaults and TABLEQ_* env vars if not set)")

	sendCmd := &cobra.Command{
		Use:   "send [body...]",
		Short: "Send messages; random bodies are generated if none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			priority, _ := cmd.Flags().GetInt("priority")
			delay, _ := cmd.Flags().GetDuration("delay")

			cfg, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			return send(cmd.Context(), cfg, db, args, count, priority, delay)
		},
	}
	sendCmd.Flags().Int("count", 1, "Number of random messages to send when no body is given")
	sendCmd.Flags().Int("priority", 0, "Message priority; higher is consumed first")
	sendCmd.Flags().Duration("delay", 0, "Delay before messages become visible")
	rootCmd.AddCommand(sendCmd)

	consumeCmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume messages until interrupted or the receive timeout expires",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
				go func() {
					if err := serveMetrics(cmd.Context(), addr); err != nil {
						log.Error().Err(err).Msg("metrics server stopped")
					}
				}()
			}
			return consume(cmd.Context(), cfg, db)
		},
	}
	consumeCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.AddCommand(consumeCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (*config.Config, *sqlx.DB, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zerolog.SetGlobalLevel(level)

	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	return cfg, db, nil
}

func newClient(cfg *config.Config, db *sqlx.DB) (*tableq.Client, error) {
	return tableq.NewClient(db, tableq.WithCreateSchema(cfg.Database.CreateSchema))
}

func send(ctx context.Context, cfg *config.Config, db *sqlx.DB, bodies []string, count, priority int, delay time.Duration) error {
	client, err := newClient(cfg, db)
	if err != nil {
		return err
	}
	p, err := client.NewProducer(cfg.Queue.Name)
	if err != nil {
		return err
	}
	if len(bodies) == 0 {
		for i := 0; i < count; i++ {
			bodies = append(bodies, gofakeit.Sentence(6))
		}
	}
	for _, body := range bodies {
		headers := map[string]string{"sent_at": time.Now().UTC().Format(time.RFC3339)}
		if err := p.Send(ctx, []byte(body), tableq.WithPriority(priority), tableq.WithDelay(delay), tableq.WithHeaders(headers)); err != nil {
			return err
		}
	}
	log.Info().Msgf("sent %d messages to queue %s", len(bodies), cfg.Queue.Name)
	return nil
}

func consume(ctx context.Context, cfg *config.Config, db *sqlx.DB) error {
	client, err := newClient(cfg, db)
	if err != nil {
		return err
	}
	timeout := time.Duration(cfg.Queue.ReceiveTimeoutMS) * time.Millisecond

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i := 0; i < cfg.Queue.Consumers; i++ {
		c, err := client.NewConsumer(cfg.Queue.Name, tableq.WithPollingInterval(time.Duration(cfg.Queue.PollingIntervalMS)*time.Millisecond))
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumeLoop(ctx, c, timeout, cfg.Queue.RequeueRatio); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func consumeLoop(ctx context.Context, c *tableq.Consumer, timeout time.Duration, requeueRatio float64) error {
	logger := log.With().Str("consumer", c.ID()).Str("queue", c.Queue()).Logger()
	logger.Info().Msg("consumer started")
	for {
		m, err := c.Receive(ctx, timeout)
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("consumer stopped")
			return nil
		}
		if errors.Is(err, tableq.ErrUndecodableMessage) {
			logger.Warn().Err(err).Msg("skipping message")
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("receive failed")
			return err
		}
		if m == nil {
			logger.Info().Msg("receive timed out")
			return nil
		}
		logger.Info().Int64("id", m.ID).Int("priority", m.Priority).Bool("redelivered", m.Redelivered).Msg(string(m.Body))
		if rand.Float64() < requeueRatio {
			err = c.Reject(ctx, m, true)
		} else {
			err = c.Acknowledge(m)
		}
		if err != nil {
			logger.Error().Err(err).Msgf("settling message %d failed", m.ID)
			return err
		}
	}
}
