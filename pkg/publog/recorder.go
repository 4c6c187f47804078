package publog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/logger"
)

// Options configures buffering and write behavior.
type Options struct {
	// BufferSize caps the queued entries. Zero means 1000.
	BufferSize int
	// WriteTimeout bounds each storage write. Zero means 5s.
	WriteTimeout time.Duration
}

// Recorder writes delivery log entries asynchronously. Safe for
// concurrent use.
type Recorder struct {
	store   *dynamostore.Store
	entries chan dynamostore.LogEntry
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
	timeout time.Duration
}

// New starts a Recorder backed by the given store. Call Close during
// shutdown to drain the queue.
func New(store *dynamostore.Store, log *slog.Logger, opts Options) *Recorder {
	if opts.BufferSize == 0 {
		opts.BufferSize = 1000
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Recorder{
		store:   store,
		entries: make(chan dynamostore.LogEntry, opts.BufferSize),
		done:    make(chan struct{}),
		logger:  log,
		timeout: opts.WriteTimeout,
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Record queues one delivery for logging. Never blocks: when the queue
// is full or the recorder is closed the entry is dropped with a warning.
// An empty message id is replaced with a generated one so the row stays
// keyable.
func (r *Recorder) Record(ctx context.Context, target, messageID string) {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	entry := dynamostore.LogEntry{
		Target:    target,
		MessageID: messageID,
		Date:      time.Now().UTC(),
	}

	select {
	case <-r.done:
		r.logger.LogAttrs(ctx, slog.LevelWarn, "delivery log recorder closed, dropping entry",
			logger.UserID(target), logger.MessageID(messageID),
		)
	case r.entries <- entry:
	default:
		r.logger.LogAttrs(ctx, slog.LevelWarn, "delivery log queue full, dropping entry",
			logger.UserID(target), logger.MessageID(messageID),
		)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.entries:
			r.write(entry)
		case <-r.done:
			// Drain what was queued before shutdown. The channel stays
			// open so a late Record cannot panic; it drops instead.
			for {
				select {
				case entry := <-r.entries:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

// write isolates storage writes from caller contexts so a canceled
// publish does not lose its log entry.
func (r *Recorder) write(entry dynamostore.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.PutLogEntry(ctx, &entry); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "failed to write delivery log entry",
			logger.UserID(entry.Target), logger.MessageID(entry.MessageID), logger.Error(err),
		)
	}
}

// Close stops the recorder and drains queued entries. The context
// bounds how long to wait for the drain.
func (r *Recorder) Close(ctx context.Context) error {
	close(r.done)

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
