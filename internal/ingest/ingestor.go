// Package ingest feeds detection payloads to a handler from a bounded
// in-process queue. Payloads arrive either from a pull Source (the detection
// queue) or from Enqueue (HTTP intake).
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"example.com/quakewatch/internal/domain"
)

// Message is one delivery from a Source.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// Source is an at-least-once pull feed. Commit acknowledges a message once it
// has been handled or dropped.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, m Message) error
}

// Handler processes one payload. ErrMalformedInput drops the payload; any
// other error is retried.
type Handler func(ctx context.Context, payload []byte) error

type item struct {
	msg Message
	src Source // nil for Enqueue'd payloads
}

type Ingestor struct {
	queue        chan item
	handle       Handler
	retryWait    time.Duration
	maxRetryWait time.Duration
	log          *zap.Logger
}

func NewIngestor(handle Handler, queueMaxSize int, retryWait time.Duration, log *zap.Logger) *Ingestor {
	if queueMaxSize <= 0 {
		queueMaxSize = 1
	}
	if retryWait <= 0 {
		retryWait = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		queue:        make(chan item, queueMaxSize),
		handle:       handle,
		retryWait:    retryWait,
		maxRetryWait: 30 * retryWait,
		log:          log,
	}
}

// Enqueue hands a payload to the worker without blocking. It reports false
// when the queue is full.
func (ig *Ingestor) Enqueue(payload []byte) bool {
	select {
	case ig.queue <- item{msg: Message{Value: payload}}:
		return true
	default:
		return false
	}
}

// Run handles queued payloads in order until ctx is done.
func (ig *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case it := <-ig.queue:
			if !ig.process(ctx, it.msg) {
				// cancelled mid-retry; the source redelivers uncommitted messages
				return nil
			}
			if it.src != nil {
				if err := it.src.Commit(ctx, it.msg); err != nil && ctx.Err() == nil {
					ig.log.Error("[ingest] commit failed",
						zap.Int("partition", it.msg.Partition),
						zap.Int64("offset", it.msg.Offset),
						zap.Error(err))
				}
			}
		}
	}
}

// process retries the handler with capped exponential backoff. It returns
// false only if ctx ended before the payload was handled or dropped.
func (ig *Ingestor) process(ctx context.Context, m Message) bool {
	wait := ig.retryWait
	for attempt := 1; ; attempt++ {
		err := ig.handle(ctx, m.Value)
		switch {
		case err == nil:
			return true
		case errors.Is(err, domain.ErrMalformedInput):
			ig.log.Warn("[ingest] payload dropped", zap.Int64("offset", m.Offset), zap.Error(err))
			return true
		}

		ig.log.Error("[ingest] handle failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Int64("offset", m.Offset),
			zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		wait *= 2
		if wait > ig.maxRetryWait {
			wait = ig.maxRetryWait
		}
	}
}

// Consume pulls from src into the queue until ctx is done. Fetch errors are
// logged and retried after retryWait.
func (ig *Ingestor) Consume(ctx context.Context, src Source) error {
	for {
		m, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ig.log.Error("[ingest] fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(ig.retryWait):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case ig.queue <- item{msg: m, src: src}:
		}
	}
}
