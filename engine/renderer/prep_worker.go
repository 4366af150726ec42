package renderer

import (
	"sync"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

// PrepWorker builds prepared frames on a dedicated goroutine so culling and
// batching overlap command recording of the previous frame. One pending job
// and one ready result are held at a time: enqueueing while a job is still
// pending replaces it, and a ready frame is consumed at most once.
type PrepWorker struct {
	builder *FrameBuilder

	mu   sync.Mutex
	cond *sync.Cond

	pendingSnap  *SceneSnapshot
	pendingFrame *metadata.PreparedFrame
	readySnap    *SceneSnapshot
	readyFrame   *metadata.PreparedFrame
	stopping     bool

	done chan struct{}
}

// NewPrepWorker starts the worker goroutine.
func NewPrepWorker() *PrepWorker {
	w := &PrepWorker{
		builder: NewFrameBuilder(),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue hands the worker a snapshot to build into out. The caller must not
// touch either until the result is consumed. If a previous job had not
// started yet it is displaced and its frame is returned so the caller can
// reclaim it. Returns accepted=false after Stop, leaving the caller the
// owner of both arguments.
func (w *PrepWorker) Enqueue(snap *SceneSnapshot, out *metadata.PreparedFrame) (displaced *metadata.PreparedFrame, accepted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping {
		return nil, false
	}
	displaced = w.pendingFrame
	w.pendingSnap = snap
	w.pendingFrame = out
	w.cond.Signal()
	return displaced, true
}

// TryConsume returns the most recently built frame and the snapshot it was
// built from, or nils when none is ready. It never blocks; a returned frame
// will not be returned again.
func (w *PrepWorker) TryConsume() (*metadata.PreparedFrame, *SceneSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, s := w.readyFrame, w.readySnap
	w.readyFrame, w.readySnap = nil, nil
	return f, s
}

// Stop shuts the worker down and waits for its goroutine to exit. A pending
// job is abandoned.
func (w *PrepWorker) Stop() {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.stopping = true
	w.cond.Signal()
	w.mu.Unlock()
	<-w.done
}

func (w *PrepWorker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for w.pendingSnap == nil && !w.stopping {
			w.cond.Wait()
		}
		if w.stopping {
			w.mu.Unlock()
			return
		}
		snap, frame := w.pendingSnap, w.pendingFrame
		w.pendingSnap, w.pendingFrame = nil, nil
		w.mu.Unlock()

		w.builder.Build(snap, frame)

		w.mu.Lock()
		w.readyFrame = frame
		w.readySnap = snap
		w.mu.Unlock()
	}
}
