// Package db persists the per-run step log.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/circuitbreaker"
	"github.com/forensight/forensight/internal/config"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// Client persists run steps. Writes can be queued to a small worker pool
// so the analysis pipeline never blocks on the database.
type Client struct {
	db     *sqlx.DB
	cb     *circuitbreaker.Breaker
	logger *zap.Logger

	writeQueue chan *StepRecord
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
	closeOnce  sync.Once
}

// Open connects using the database config section and pings the server.
func Open(cfg config.DatabaseConfig, cb circuitbreaker.Settings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	rawDB, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 10
	}
	if driver == "sqlite3" {
		maxOpen = 1
	}
	rawDB.SetMaxOpenConns(maxOpen)
	if cfg.MaxIdleConns > 0 {
		rawDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		rawDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		rawDB.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rawDB.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := NewClient(rawDB, cb, logger)
	logger.Info("Database client initialized",
		zap.String("driver", driver),
		zap.Int("max_connections", maxOpen),
		zap.Int("workers", c.workers),
	)
	return c, nil
}

// NewClient wraps an open connection and starts the write workers.
func NewClient(db *sqlx.DB, cb circuitbreaker.Settings, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := circuitbreaker.New("database", cb.FromEnv("database"), logger)
	circuitbreaker.GlobalCollector.Register(breaker, "database")

	c := &Client{
		db:         db,
		cb:         breaker,
		logger:     logger,
		writeQueue: make(chan *StepRecord, defaultQueueSize),
		workers:    defaultWorkers,
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
	return c
}

func (c *Client) exec(ctx context.Context, fn func() error) error {
	err := c.cb.Execute(ctx, fn)
	circuitbreaker.GlobalCollector.RecordRequest(c.cb, err == nil)
	return err
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case rec := <-c.writeQueue:
			c.processWrite(rec)
		}
	}
}

func (c *Client) processWrite(rec *StepRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.SaveStep(ctx, rec); err != nil {
		c.logger.Error("Failed to persist run step",
			zap.String("run_id", rec.RunID),
			zap.String("step", rec.Step),
			zap.Error(err))
	}
}

func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case rec := <-c.writeQueue:
			c.processWrite(rec)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// QueueStep hands rec to the write workers, writing synchronously when the
// queue is full so no step is dropped.
func (c *Client) QueueStep(rec *StepRecord) {
	select {
	case c.writeQueue <- rec:
	default:
		c.logger.Warn("Write queue is full, falling back to synchronous write", zap.String("step", rec.Step))
		c.processWrite(rec)
	}
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.exec(ctx, func() error { return c.db.PingContext(ctx) })
}

// Close drains queued writes and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.workerWg.Wait()
		if cerr := c.db.Close(); cerr != nil {
			err = fmt.Errorf("failed to close database: %w", cerr)
		}
	})
	return err
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *circuitbreaker.Breaker { return c.cb }
