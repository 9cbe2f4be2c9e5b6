package main

import (
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/italolelis/syncbox/internal/transfer"
)

// tracker draws one progress bar per transfer. When ids are expected, only
// those are drawn and done is closed once all of them finished.
type tracker struct {
	p *mpb.Progress

	mu       sync.Mutex
	bars     map[uuid.UUID]*mpb.Bar
	expected map[uuid.UUID]bool
	finished map[uuid.UUID]transfer.State
	stopped  bool
	doneCh   chan struct{}
}

func newTracker(w io.Writer) *tracker {
	return &tracker{
		p:        mpb.New(mpb.WithOutput(w), mpb.WithWidth(64), mpb.WithRefreshRate(100*time.Millisecond)),
		bars:     make(map[uuid.UUID]*mpb.Bar),
		expected: make(map[uuid.UUID]bool),
		finished: make(map[uuid.UUID]transfer.State),
		doneCh:   make(chan struct{}),
	}
}

func (t *tracker) expect(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expected[id] = true
}

func (t *tracker) done() <-chan struct{} {
	return t.doneCh
}

func (t *tracker) TransferChanged(tr transfer.Transfer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	if len(t.expected) > 0 && !t.expected[tr.ID] {
		return
	}

	if _, ok := t.finished[tr.ID]; ok {
		return
	}

	bar, ok := t.bars[tr.ID]
	if !ok {
		name := barName(tr)
		bar = t.p.New(100, mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			),
			mpb.AppendDecorators(
				decor.OnAbort(
					decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
					"failed",
				),
			),
		)
		t.bars[tr.ID] = bar
	}

	switch tr.State {
	case transfer.StateCompleted:
		bar.SetCurrent(100)
	case transfer.StateFailed:
		bar.Abort(false)
	default:
		bar.SetCurrent(int64(tr.Progress))

		return
	}

	t.finished[tr.ID] = tr.State
	t.closeIfDone()
}

// StatusChanged draws bars for transfers that are not yet finished.
func (t *tracker) StatusChanged(s transfer.Status) {
	for _, group := range [][]transfer.Transfer{s.Running, s.Pending} {
		for _, tr := range group {
			t.TransferChanged(tr)
		}
	}
}

func (t *tracker) closeIfDone() {
	if len(t.expected) == 0 {
		return
	}

	for id := range t.expected {
		if _, ok := t.finished[id]; !ok {
			return
		}
	}

	select {
	case <-t.doneCh:
	default:
		close(t.doneCh)
	}
}

// abort stops drawing and drops bars that never finished.
func (t *tracker) abort() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true

	for id, bar := range t.bars {
		if _, ok := t.finished[id]; !ok {
			bar.Abort(true)
		}
	}
}

// wait blocks until every bar is rendered for the last time.
func (t *tracker) wait() {
	t.p.Wait()
}

func (t *tracker) failed() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []uuid.UUID

	for id, state := range t.finished {
		if state == transfer.StateFailed {
			ids = append(ids, id)
		}
	}

	return ids
}

func barName(tr transfer.Transfer) string {
	name := fmt.Sprintf("%s %s", tr.Direction(), path.Base(tr.File.RemotePath))
	if tr.File.Length > 0 {
		name += " (" + humanize.Bytes(uint64(tr.File.Length)) + ")"
	}

	return name
}
