package host

import (
	"sync"

	"github.com/italolelis/syncbox/internal/transfer"
)

// binding is an in-process attachment. It is lost when closed or when the manager stops.
type binding struct {
	*transfer.Manager

	done      chan struct{}
	closeOnce sync.Once
}

func newBinding(m *transfer.Manager) *binding {
	b := &binding{Manager: m, done: make(chan struct{})}

	go func() {
		select {
		case <-m.Done():
			b.closeOnce.Do(func() { close(b.done) })
		case <-b.done:
		}
	}()

	return b
}

func (b *binding) Done() <-chan struct{} {
	return b.done
}

func (b *binding) Close() error {
	b.closeOnce.Do(func() { close(b.done) })

	return nil
}
