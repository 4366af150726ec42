package renderer

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/crown3d/crown/engine/assets"
	"github.com/crown3d/crown/engine/config"
	"github.com/crown3d/crown/engine/core"
	"github.com/crown3d/crown/engine/renderer/metadata"
	"github.com/crown3d/crown/engine/scene"
)

// framePair is one snapshot/frame buffer pair cycled between the frame
// thread and the prep worker. Four pairs cover the worst case of one
// pending, one building, one ready and one being captured.
type framePair struct {
	snap  SceneSnapshot
	frame metadata.PreparedFrame
}

// RenderSystem owns the frame pipeline: snapshot the scene, prepare draw
// batches (asynchronously when configured), schedule shadow cascades, upload
// instance data and record the passes. All methods run on the frame thread.
type RenderSystem struct {
	backend  Backend
	settings config.RenderSettings
	threads  config.ThreadConfig

	materialRegistry *assets.MaterialRegistry
	seenMaterialVer  uint64

	meshes        *MeshCache
	materialCache *MaterialResourceCache
	instances     *InstanceBufferManager
	scheduler     *CascadedShadowScheduler
	pool          *RecordingPool
	shadowPool    *RecordingPool
	prep          *PrepWorker
	diagnostics   *core.Diagnostics

	pairs     [4]framePair
	available []*framePair

	syncBuilder *FrameBuilder
	syncFrame   metadata.PreparedFrame
	shadowFrame ShadowFrame

	shadowProgram metadata.ProgramHandle
	depthProgram  metadata.ProgramHandle

	sun       scene.Light
	gpuLights []metadata.GpuLight

	materialStates []*metadata.MaterialGpuState

	time float32
}

// NewRenderSystem wires the pipeline on top of an initialized backend.
func NewRenderSystem(backend Backend, settings config.RenderSettings, threads config.ThreadConfig, materials *assets.MaterialRegistry, textures *assets.TextureRegistry) *RenderSystem {
	settings.Sanitize()

	r := &RenderSystem{
		backend:          backend,
		settings:         settings,
		threads:          threads,
		materialRegistry: materials,
		meshes:           NewMeshCache(backend),
		materialCache:    NewMaterialResourceCache(backend, textures),
		instances:        NewInstanceBufferManager(backend),
		scheduler:        NewCascadedShadowScheduler(),
		pool:             NewRecordingPool(int(threads.RenderRecordingContexts)),
		shadowPool:       NewRecordingPool(int(threads.RenderShadowRecordThreads)),
		diagnostics:      core.NewDiagnostics(),
		syncBuilder:      NewFrameBuilder(),
	}
	for i := range r.pairs {
		r.available = append(r.available, &r.pairs[i])
	}
	if threads.RenderPrepareWorkerThreads > 0 {
		r.prep = NewPrepWorker()
	}
	return r
}

// Settings returns the active render settings.
func (r *RenderSystem) Settings() config.RenderSettings {
	return r.settings
}

// Shutdown stops the workers and releases every GPU resource the system
// owns. The backend itself is shut down by the caller.
func (r *RenderSystem) Shutdown() {
	if r.prep != nil {
		r.prep.Stop()
	}
	r.pool.Stop()
	r.shadowPool.Stop()
	r.instances.Release()
	r.meshes.Release()
	r.materialCache.Release()
}

// Resized forwards a surface resize to the backend.
func (r *RenderSystem) Resized(width, height uint32) {
	r.backend.Resized(width, height)
}

// OnDeviceLost invalidates every cached GPU resource. Buffers, textures and
// programs are rebuilt lazily over the following frames.
func (r *RenderSystem) OnDeviceLost() {
	core.LogWarn("Device lost, invalidating GPU caches.")
	r.meshes.Invalidate()
	r.materialCache.InvalidateAll()
	r.instances.Invalidate()
	r.shadowProgram = 0
	r.depthProgram = 0
	r.diagnostics.Reset()
}

// DrawFrame renders one frame of the scene. Failures of individual features
// degrade that feature for the frame; only device-level errors propagate.
func (r *RenderSystem) DrawFrame(sc *scene.Scene, deltaTime float64) error {
	ok, err := r.backend.BeginFrame(deltaTime)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	err = r.drawFrame(sc, deltaTime)
	if endErr := r.backend.EndFrame(); err == nil {
		err = endErr
	}
	return err
}

func (r *RenderSystem) drawFrame(sc *scene.Scene, deltaTime float64) error {
	r.time += float32(deltaTime)

	if v := r.materialRegistry.Version(); v != r.seenMaterialVer {
		r.materialCache.InvalidateAll()
		r.seenMaterialVer = v
	}
	if r.settings.EnablePointShadows {
		r.diagnostics.WarnOnce("point-shadows", "Point light shadows are not supported, rendering directional cascades only.")
	}

	for _, e := range sc.Entities() {
		if e.Mesh != nil {
			r.meshes.Register(e.Mesh)
		}
	}

	frame, frameSnap, pair := r.acquireFrame(sc)
	defer func() {
		if pair != nil {
			r.available = append(r.available, pair)
		}
	}()

	r.gatherLights(sc)

	targetsReady := false
	if r.settings.EnableShadows && r.settings.ShadowStrength > 0 {
		targetsReady = r.backend.ShadowTargets(r.settings.ShadowMapSize, r.settings.CascadeCount)
		if !targetsReady {
			r.diagnostics.WarnOnce("shadow-targets", "Shadow targets unavailable, shadows disabled.")
		}
	}
	shadowsActive := r.scheduler.Schedule(&r.settings, frameSnap, &sc.Camera, &r.sun, targetsReady, &r.shadowFrame)

	if err := r.resolveMaterials(frame); err != nil {
		return err
	}

	geomBatches := r.uploadedBatches(frame.Batches)
	for i := range r.shadowFrame.Cascades {
		c := &r.shadowFrame.Cascades[i]
		c.Batches = r.uploadedBatches(c.Batches)
	}

	instanceBuffer, err := r.instances.Upload(frame, &r.shadowFrame)
	if err != nil {
		r.diagnostics.WarnOnce("instance-buffer", "Instance upload failed, skipping frame: %s", err)
		return nil
	}

	fc := FrameConstants{
		View:             frameSnap.View,
		Projection:       frameSnap.Projection,
		ViewProjection:   frameSnap.ViewProjection,
		CameraPosition:   frameSnap.CameraPosition,
		Exposure:         r.settings.Exposure,
		Time:             r.time,
		CascadeSplitsNdc: r.shadowFrame.SplitsNdc,
		LightCount:       uint32(len(r.gpuLights)),
		ShadowBias:       r.settings.ShadowBias,
	}
	for i := range fc.CascadeViewProj {
		fc.CascadeViewProj[i] = mgl32.Ident4()
	}
	if shadowsActive {
		fc.ShadowStrength = r.settings.ShadowStrength
		fc.ShadowSoftness = r.settings.ShadowSoftness
		for i := range r.shadowFrame.Cascades {
			if i == len(fc.CascadeViewProj) {
				break
			}
			fc.CascadeViewProj[i] = r.shadowFrame.Cascades[i].ViewProj
		}
	}
	if err := r.backend.SetFrameConstants(fc); err != nil {
		return err
	}
	if err := r.backend.SetLights(r.gpuLights); err != nil {
		return err
	}

	if shadowsActive {
		if prog := r.ensureProgram(&r.shadowProgram, "shadow", "shaders/depth", "SHADOW_PASS"); prog.Valid() {
			for i := range r.shadowFrame.Cascades {
				c := &r.shadowFrame.Cascades[i]
				bindings := metadata.PassBindings{
					Kind:           metadata.PassShadow,
					CascadeIndex:   int32(i),
					ViewProj:       c.ViewProj,
					Program:        prog,
					InstanceBuffer: instanceBuffer,
				}
				if err := r.shadowPool.RecordPass(r.backend, bindings, c.Batches, nil); err != nil {
					return err
				}
			}
		}
	}

	if r.settings.EnableDepthPrepass {
		if prog := r.ensureProgram(&r.depthProgram, "depth-prepass", "shaders/depth"); prog.Valid() {
			bindings := metadata.PassBindings{
				Kind:           metadata.PassDepthPrepass,
				CascadeIndex:   -1,
				ViewProj:       frameSnap.ViewProjection,
				Program:        prog,
				InstanceBuffer: instanceBuffer,
			}
			if err := r.pool.RecordPass(r.backend, bindings, geomBatches, nil); err != nil {
				return err
			}
		}
	}

	geometry := metadata.PassBindings{
		Kind:           metadata.PassGeometry,
		CascadeIndex:   -1,
		ViewProj:       frameSnap.ViewProjection,
		InstanceBuffer: instanceBuffer,
	}
	if err := r.pool.RecordPass(r.backend, geometry, geomBatches, r.materialStates); err != nil {
		return err
	}

	if r.settings.EnableSSAO {
		if err := r.fullscreenPass(metadata.PassSSAO); err != nil {
			return err
		}
	}
	if r.settings.EnableTonemap {
		if err := r.fullscreenPass(metadata.PassTonemap); err != nil {
			return err
		}
	}
	return nil
}

// acquireFrame captures the scene and returns the prepared frame to render
// plus the snapshot it was built from. With the prep worker enabled the
// returned frame is usually last frame's snapshot built in the background;
// when nothing is ready yet the current snapshot is built synchronously.
// The returned pair, when non-nil, must go back to the free list after the
// frame.
func (r *RenderSystem) acquireFrame(sc *scene.Scene) (*metadata.PreparedFrame, *SceneSnapshot, *framePair) {
	if r.prep == nil {
		pair := r.available[len(r.available)-1]
		pair.snap.Capture(sc, r.materialRegistry)
		r.syncBuilder.Build(&pair.snap, &pair.frame)
		return &pair.frame, &pair.snap, nil
	}

	readyFrame, readySnap := r.prep.TryConsume()
	var readyPair *framePair
	if readyFrame != nil {
		readyPair = r.pairOf(readyFrame)
	}

	pair := r.available[len(r.available)-1]
	r.available = r.available[:len(r.available)-1]
	pair.snap.Capture(sc, r.materialRegistry)

	if displaced, accepted := r.prep.Enqueue(&pair.snap, &pair.frame); accepted {
		if displaced != nil {
			r.available = append(r.available, r.pairOf(displaced))
		}
	} else {
		r.available = append(r.available, pair)
	}

	if readyFrame == nil {
		r.syncBuilder.Build(&pair.snap, &r.syncFrame)
		return &r.syncFrame, &pair.snap, nil
	}
	return readyFrame, readySnap, readyPair
}

func (r *RenderSystem) pairOf(frame *metadata.PreparedFrame) *framePair {
	for i := range r.pairs {
		if &r.pairs[i].frame == frame {
			return &r.pairs[i]
		}
	}
	return nil
}

// resolveMaterials maps the frame's material slots to GPU state. A material
// that fails to resolve degrades to the default material.
func (r *RenderSystem) resolveMaterials(frame *metadata.PreparedFrame) error {
	r.materialStates = r.materialStates[:0]
	for i := range frame.Materials {
		state, err := r.materialCache.GetOrCreate(&frame.Materials[i], frame.MaterialHashes[i])
		if err != nil {
			r.diagnostics.WarnOnce(fmt.Sprintf("material-state-%x", frame.MaterialHashes[i]),
				"Material GPU state failed, using default: %s", err)
			def := metadata.DefaultMaterialValue()
			state, err = r.materialCache.GetOrCreate(&def, def.ContentHash())
			if err != nil {
				return fmt.Errorf("default material: %w", err)
			}
		}
		r.materialStates = append(r.materialStates, state)
	}
	return nil
}

// uploadedBatches ensures every batch's mesh is GPU-resident and compacts
// out the ones that fail, in place.
func (r *RenderSystem) uploadedBatches(batches []metadata.DrawBatch) []metadata.DrawBatch {
	out := batches[:0]
	for i := range batches {
		b := batches[i]
		if err := r.meshes.EnsureUploaded(b.Mesh); err != nil {
			r.diagnostics.WarnOnce("mesh-upload-"+b.Mesh.Name, "Mesh upload failed, skipping draws: %s", err)
			continue
		}
		out = append(out, b)
	}
	return out
}

func (r *RenderSystem) fullscreenPass(kind metadata.PassKind) error {
	if err := r.backend.BeginPass(metadata.PassBindings{Kind: kind, CascadeIndex: -1}); err != nil {
		return err
	}
	return r.backend.EndPass()
}

func (r *RenderSystem) ensureProgram(slot *metadata.ProgramHandle, name, source string, defines ...string) metadata.ProgramHandle {
	if slot.Valid() {
		return *slot
	}
	handle, err := r.backend.CompileProgram(metadata.ProgramKey{Source: source, Entry: "main", Defines: defines})
	if err != nil {
		r.diagnostics.WarnOnce("program-"+name, "Program '%s' unavailable, feature disabled: %s", name, err)
		return 0
	}
	*slot = handle
	return handle
}

// gatherLights fills the GPU light array from the scene's enabled lights,
// capped at MaxGpuLights, and selects the sun for shadow scheduling. A scene
// with no directional light gets a default sun.
func (r *RenderSystem) gatherLights(sc *scene.Scene) {
	r.gpuLights = r.gpuLights[:0]

	if sun := sc.FirstDirectionalLight(); sun != nil {
		r.sun = *sun
	} else {
		r.sun = scene.DefaultSun()
		r.gpuLights = append(r.gpuLights, toGpuLight(&r.sun))
	}

	for i := range sc.Lights {
		l := &sc.Lights[i]
		if !l.Enabled {
			continue
		}
		if len(r.gpuLights) == metadata.MaxGpuLights {
			r.diagnostics.WarnOnce("light-overflow", "Too many lights, extras ignored (max %d).", metadata.MaxGpuLights)
			break
		}
		r.gpuLights = append(r.gpuLights, toGpuLight(l))
	}
}

func toGpuLight(l *scene.Light) metadata.GpuLight {
	dir := l.NormalizedDirection()
	g := metadata.GpuLight{
		GroupMask: l.GroupMask,
		Color:     [3]float32{l.Color.X(), l.Color.Y(), l.Color.Z()},
		Intensity: l.Intensity,
		Direction: [3]float32{dir.X(), dir.Y(), dir.Z()},
		Position:  [3]float32{l.Position.X(), l.Position.Y(), l.Position.Z()},
		Range:     l.Range,
	}
	switch l.Kind {
	case scene.LightDirectional:
		g.Type = metadata.LightTypeDirectional
	case scene.LightPoint:
		g.Type = metadata.LightTypePoint
	case scene.LightSpot:
		g.Type = metadata.LightTypeSpot
		g.InnerCos = float32(math.Cos(float64(l.InnerCone)))
		g.OuterCos = float32(math.Cos(float64(l.OuterCone)))
	}
	return g
}
