package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// headerAttempt carries Job.Attempts across republishes.
const headerAttempt = "x-attempt"

// Broker is a RabbitMQ-backed queue. Retries are republished to the same
// queue after the backoff; permanent failures go to "<queue>.dead".
type Broker struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	handlers map[string]Handler
	retry    RetryPolicy
	logger   *slog.Logger
	pubMu    sync.Mutex
}

var _ Enqueuer = (*Broker)(nil)

// DialBroker connects to url and declares the work and dead-letter queues.
func DialBroker(url, queue string, handlers map[string]Handler, retry RetryPolicy, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queue == "" {
		queue = "mockprep.jobs"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	for _, name := range []string{queue, deadQueue(queue)} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	logger.Info("connected to rabbitmq", "queue", queue)
	return &Broker{conn: conn, channel: ch, queue: queue, handlers: handlers, retry: retry.withDefaults(), logger: logger}, nil
}

func deadQueue(queue string) string { return queue + ".dead" }

// Enqueue publishes a persistent message of type typ.
func (b *Broker) Enqueue(ctx context.Context, typ string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.publish(ctx, b.queue, &Job{Type: typ, Payload: body})
}

func (b *Broker) publish(ctx context.Context, queue string, j *Job) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.channel.PublishWithContext(ctx, "", queue, false, false, toPublishing(j))
}

func toPublishing(j *Job) amqp.Publishing {
	h := amqp.Table{headerAttempt: int32(j.Attempts)}
	if j.LastError != "" {
		h["x-last-error"] = j.LastError
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         j.Type,
		Timestamp:    time.Now(),
		Headers:      h,
		Body:         j.Payload,
	}
}

// fromDelivery rebuilds the job carried by d.
func fromDelivery(d amqp.Delivery, maxAttempts int) *Job {
	j := &Job{
		Type:        d.Type,
		Payload:     json.RawMessage(d.Body),
		Status:      StatusRunning,
		MaxAttempts: maxAttempts,
		ScheduledAt: d.Timestamp,
	}
	switch v := d.Headers[headerAttempt].(type) {
	case int32:
		j.Attempts = int(v)
	case int64:
		j.Attempts = int(v)
	case int:
		j.Attempts = v
	}
	return j
}

// Run consumes with manual acks until ctx is done, using workers goroutines.
// A message is acked only after it was handled, republished or dead-lettered.
func (b *Broker) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	if err := b.channel.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := b.channel.ConsumeWithContext(ctx, b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					b.handle(ctx, d)
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return errors.New("rabbitmq delivery channel closed")
}

func (b *Broker) handle(ctx context.Context, d amqp.Delivery) {
	job := fromDelivery(d, b.retry.MaxAttempts)
	log := b.logger.With("type", job.Type, "attempt", job.Attempts+1)

	h, ok := b.handlers[job.Type]
	var err error
	if !ok {
		err = ErrNoHandler
	} else {
		err = h(ctx, job)
	}

	switch o, backoff := b.retry.settle(job, err); o {
	case outcomeRetry:
		log.Warn("job failed, retry scheduled", "err", err, "backoff", backoff)
		if !sleep(ctx, nil, backoff) {
			// shutting down: leave it for redelivery
			_ = d.Nack(false, true)
			return
		}
		if pubErr := b.publish(ctx, b.queue, job); pubErr != nil {
			log.Error("republish job", "err", pubErr)
			_ = d.Nack(false, true)
			return
		}
	case outcomeDead:
		log.Error("job failed permanently", "err", err, "attempts", job.Attempts)
		if pubErr := b.publish(ctx, deadQueue(b.queue), job); pubErr != nil {
			log.Error("publish dead letter", "err", pubErr)
		}
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.Error("ack", "err", ackErr)
	}
}

// Close closes the channel and connection.
func (b *Broker) Close() error {
	if err := b.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = b.conn.Close()
		return err
	}
	return b.conn.Close()
}
