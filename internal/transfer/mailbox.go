package transfer

import "sync"

// mailbox is an unbounded FIFO of closures. Posting never blocks, so task
// callbacks and listeners may post from any goroutine, including the consumer's own.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue
	m.queue = nil

	return q
}
