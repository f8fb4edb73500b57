package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/port"
)

var (
	ErrNotifierClosed = errors.New("notifier closed")
	ErrQueueFull      = errors.New("notification queue full")
)

const sendTimeout = 10 * time.Second

type notification struct {
	recipient string
	text      string
}

// AsyncNotifier queues outbound messages and delivers them from a fixed pool
// of workers. Send never blocks; a full queue drops the message.
type AsyncNotifier struct {
	next   port.Notifier
	queue  chan notification
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncNotifier(next port.Notifier, queueSize, workers int, logger *zap.Logger) *AsyncNotifier {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	n := &AsyncNotifier{
		next:   next,
		queue:  make(chan notification, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.workerLoop(i)
	}
	return n
}

func (n *AsyncNotifier) Send(ctx context.Context, recipient, text string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}

	select {
	case n.queue <- notification{recipient: recipient, text: text}:
		return nil
	default:
		n.logger.Warn("notification dropped, queue full", zap.String("recipient", recipient))
		return ErrQueueFull
	}
}

func (n *AsyncNotifier) workerLoop(id int) {
	defer n.wg.Done()
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := n.next.Send(ctx, msg.recipient, msg.text); err != nil {
			n.logger.Error("notification failed",
				zap.Int("worker", id),
				zap.String("recipient", msg.recipient),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (n *AsyncNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}
