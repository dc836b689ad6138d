package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wxm/internal/bus"
	"go.uber.org/zap"
)

// ErrClosed is returned by Dispatch after Stop.
var ErrClosed = errors.New("dispatcher closed")

// Dispatcher delivers batches to a single consumer goroutine in the order
// they were submitted. Dispatch never blocks on the consumer: batches queue
// until the consumer goroutine picks them up.
type Dispatcher struct {
	consumer Consumer
	bus      *bus.Bus
	logger   *zap.Logger

	mu     sync.Mutex
	queue  []Batch
	seq    uint64
	ended  bool
	closed bool
	wake   chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a dispatcher for consumer. b may be nil.
func New(consumer Consumer, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		consumer: consumer,
		bus:      b,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Dispatch enqueues a batch. Empty batches are dropped, and so is every
// SessionEnded batch after the first.
func (d *Dispatcher) Dispatch(b Batch) error {
	if b.empty() {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if b.Kind == SessionEnded {
		if d.ended {
			d.mu.Unlock()
			return nil
		}
		d.ended = true
	}
	d.seq++
	b.Seq = d.seq
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	d.queue = append(d.queue, b)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued, undelivered batches.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Start launches the consumer goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run(ctx)
}

// Stop refuses further batches, delivers what is already queued and waits
// for the consumer goroutine to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		d.drain()
		select {
		case <-ctx.Done():
			d.drain()
			return
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		b := d.queue[0]
		d.queue[0] = Batch{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(b)
	}
}

func (d *Dispatcher) deliver(b Batch) {
	switch b.Kind {
	case ContactsAdded:
		d.consumer.OnContactsAdded(b.Contacts)
	case ContactsUpdated:
		d.consumer.OnContactsUpdated(b.Contacts)
	case MessagesSynced:
		d.consumer.OnMessagesSynced(b.Messages)
	case DirectoryLoaded:
		d.consumer.OnDirectoryLoaded(b.Contacts)
	case SessionEnded:
		if h, ok := d.consumer.(SessionEndHandler); ok {
			h.OnSessionEnded(b.Err)
		}
	default:
		d.logger.Warn("dropping batch of unknown kind", zap.Int("kind", int(b.Kind)))
		return
	}
	d.logger.Debug("batch delivered",
		zap.Stringer("kind", b.Kind),
		zap.Uint64("seq", b.Seq),
		zap.Int("size", b.Size()),
	)
	if d.bus != nil {
		d.bus.Publish(bus.Event{Kind: bus.KindBatchDelivered, Timestamp: time.Now(), Payload: Delivered{
			ID:   b.ID,
			Seq:  b.Seq,
			Kind: b.Kind,
			Size: b.Size(),
		}})
	}
}

// Delivered is the bus payload published after each delivery.
type Delivered struct {
	ID   uuid.UUID
	Seq  uint64
	Kind Kind
	Size int
}
