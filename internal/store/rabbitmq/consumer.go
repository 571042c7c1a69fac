package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const retriesHeader = "x-retries"

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery
// channel, usually because the connection dropped.
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// HandlerFunc processes one job. Returning nil acks the delivery.
type HandlerFunc func(ctx context.Context, jobID string) error

type ConsumerOptions struct {
	Queue       string
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	// Final reports errors that must not be retried. The delivery is acked.
	Final func(error) bool
}

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	opts ConsumerOptions
	log  *zap.Logger

	pubMu sync.Mutex
}

func NewConsumer(url string, opts ConsumerOptions, log *zap.Logger) (*Consumer, error) {
	opts.Queue = strings.TrimSpace(opts.Queue)
	if opts.Queue == "" {
		return nil, errors.New("rabbitmq: queue name is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	conn, ch, err := open(url, opts.Queue)
	if err != nil {
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, opts: opts, log: log}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx is done or the delivery channel closes. In-flight
// jobs are drained before it returns.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	msgs, err := c.ch.Consume(c.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.log.Info("worker started",
		zap.String("queue", c.opts.Queue),
		zap.Int("concurrency", c.opts.Concurrency),
		zap.Int("max_retries", c.opts.MaxRetries),
	)

	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)

	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d, handle)
			}
		}(i)
	}

	// dispatcher
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			c.log.Info("worker shutting down")
			break loop
		case d, ok := <-msgs:
			if !ok {
				runErr = ErrDeliveriesClosed
				break loop
			}
			jobs <- d
		}
	}
	close(jobs)
	wg.Wait()
	return runErr
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery, handle HandlerFunc) {
	log := c.log.With(zap.Int("worker", workerID))

	jobID, err := decodeJob(d.Body)
	if err != nil {
		log.Warn("bad message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	log = log.With(zap.String("job_id", jobID))

	start := time.Now()
	err = handle(ctx, jobID)
	cost := time.Since(start)

	retries := retryCount(d.Headers)
	switch decide(err, retries, c.opts.MaxRetries, c.opts.Final) {
	case actionAck:
		if err != nil {
			log.Info("job failed", zap.Duration("cost", cost), zap.Error(err))
		} else {
			log.Info("job done", zap.Duration("cost", cost))
		}
		if ackErr := d.Ack(false); ackErr != nil {
			log.Warn("ack failed", zap.Error(ackErr))
		}
	case actionRetry:
		log.Warn("job error, retrying", zap.Int("attempt", retries+1), zap.Duration("cost", cost), zap.Error(err))
		if pubErr := c.retry(ctx, d, retries+1); pubErr != nil {
			log.Error("retry publish failed", zap.Error(pubErr))
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
	case actionDead:
		log.Error("job error, dead-lettering", zap.Int("retries", retries), zap.Duration("cost", cost), zap.Error(err))
		_ = d.Nack(false, false)
	}
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(attempt)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.ch.PublishWithContext(cctx, "", retryQueue(c.opts.Queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      headers,
		Expiration:   strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	})
}

type action int

const (
	actionAck action = iota
	actionRetry
	actionDead
)

func decide(err error, retries, maxRetries int, final func(error) bool) action {
	if err == nil {
		return actionAck
	}
	if final != nil && final(err) {
		return actionAck
	}
	if retries < maxRetries {
		return actionRetry
	}
	return actionDead
}

func decodeJob(body []byte) (string, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return "", err
	}
	id := strings.TrimSpace(m.JobID)
	if id == "" {
		return "", errors.New("missing job_id")
	}
	return id, nil
}

func retryCount(h amqp.Table) int {
	switch v := h[retriesHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
