package renderer

import (
	"fmt"
	"sync"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

// MaxRecordingContexts caps how many command recorders a pass may use in
// parallel.
const MaxRecordingContexts = 4

type recordJob struct {
	recorder  CommandRecorder
	bindings  metadata.PassBindings
	batches   []metadata.DrawBatch
	materials []*metadata.MaterialGpuState
	result    *recordResult
	wg        *sync.WaitGroup
}

type recordResult struct {
	buffer CommandBuffer
	err    error
}

// RecordingPool records a pass's draw batches across a persistent pool of
// goroutines. Batches are split into contiguous chunks, one per recorder;
// every recorder rebinds full pass state so chunks never depend on each
// other, and the recorded buffers replay in chunk order so the draw order
// matches sequential recording.
type RecordingPool struct {
	workers int
	jobs    chan recordJob
	stopped sync.WaitGroup

	results []recordResult
	buffers []CommandBuffer
}

// NewRecordingPool starts a pool with the given number of workers, clamped to
// [1, MaxRecordingContexts]. One worker means every pass records on the
// calling goroutine.
func NewRecordingPool(workers int) *RecordingPool {
	if workers < 1 {
		workers = 1
	}
	if workers > MaxRecordingContexts {
		workers = MaxRecordingContexts
	}

	p := &RecordingPool{
		workers: workers,
		jobs:    make(chan recordJob),
	}
	for i := 1; i < workers; i++ {
		p.stopped.Add(1)
		go p.worker()
	}
	return p
}

func (p *RecordingPool) worker() {
	defer p.stopped.Done()
	for job := range p.jobs {
		job.result.buffer, job.result.err = recordChunk(job.recorder, job.bindings, job.batches, job.materials)
		job.wg.Done()
	}
}

// Stop shuts the pool down and waits for its workers to exit. No pass may be
// in flight.
func (p *RecordingPool) Stop() {
	close(p.jobs)
	p.stopped.Wait()
}

// RecordPass records and executes one pass. materials maps material slots to
// resolved GPU state; it may be nil for depth-only passes. The pass bracket
// (BeginPass/EndPass) is owned here so callers cannot interleave passes.
func (p *RecordingPool) RecordPass(backend Backend, bindings metadata.PassBindings, batches []metadata.DrawBatch, materials []*metadata.MaterialGpuState) error {
	if err := backend.BeginPass(bindings); err != nil {
		return err
	}
	err := p.recordInto(backend, bindings, batches, materials)
	if endErr := backend.EndPass(); err == nil {
		err = endErr
	}
	return err
}

func (p *RecordingPool) recordInto(backend Backend, bindings metadata.PassBindings, batches []metadata.DrawBatch, materials []*metadata.MaterialGpuState) error {
	if len(batches) == 0 {
		return nil
	}

	chunks := p.workers
	if chunks > len(batches) {
		chunks = len(batches)
	}

	recorders, err := backend.Recorders(chunks)
	if err != nil {
		return err
	}
	if len(recorders) == 0 {
		return fmt.Errorf("backend returned no command recorders")
	}
	chunks = len(recorders)

	if chunks == 1 {
		buffer, err := recordChunk(recorders[0], bindings, batches, materials)
		if err != nil {
			return err
		}
		return backend.Execute([]CommandBuffer{buffer})
	}

	chunkSize := (len(batches) + chunks - 1) / chunks

	if cap(p.results) < chunks {
		p.results = make([]recordResult, chunks)
	}
	p.results = p.results[:chunks]

	var wg sync.WaitGroup
	for i := 0; i < chunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(batches) {
			end = len(batches)
		}
		p.results[i] = recordResult{}

		job := recordJob{
			recorder:  recorders[i],
			bindings:  bindings,
			batches:   batches[start:end],
			materials: materials,
			result:    &p.results[i],
			wg:        &wg,
		}
		wg.Add(1)
		if i == chunks-1 {
			// The caller records the final chunk itself instead of idling.
			job.result.buffer, job.result.err = recordChunk(job.recorder, job.bindings, job.batches, job.materials)
			wg.Done()
		} else {
			p.jobs <- job
		}
	}
	wg.Wait()

	p.buffers = p.buffers[:0]
	for i := range p.results {
		if p.results[i].err != nil {
			return p.results[i].err
		}
		p.buffers = append(p.buffers, p.results[i].buffer)
	}
	return backend.Execute(p.buffers)
}

// recordChunk records one contiguous batch range. It binds the full pass
// state first and then skips material rebinds only when both the program ID
// and the material slot match the previous batch by value.
func recordChunk(rec CommandRecorder, bindings metadata.PassBindings, batches []metadata.DrawBatch, materials []*metadata.MaterialGpuState) (CommandBuffer, error) {
	if err := rec.Begin(bindings); err != nil {
		return nil, err
	}

	lastProgram := int64(-1)
	lastSlot := int64(-1)
	var lastMesh *metadata.MeshGpu

	for i := range batches {
		b := &batches[i]

		if !bindings.Program.Valid() && b.MaterialSlot >= 0 {
			state := materials[b.MaterialSlot]
			if int64(state.ProgramID) != lastProgram || int64(b.MaterialSlot) != lastSlot {
				rec.BindMaterial(state)
				lastProgram = int64(state.ProgramID)
				lastSlot = int64(b.MaterialSlot)
			}
		}
		if b.Mesh.Gpu != lastMesh {
			rec.BindMesh(b.Mesh.Gpu)
			lastMesh = b.Mesh.Gpu
		}
		rec.DrawInstanced(b.FirstInstance, b.InstanceCount)
	}
	return rec.End()
}
