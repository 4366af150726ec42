package renderer

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/crown3d/crown/engine/config"
	"github.com/crown3d/crown/engine/renderer/metadata"
	"github.com/crown3d/crown/engine/scene"
)

// Distance the light-space eye is pulled back from the cascade center.
const shadowEyeDistance = 100.0

// ShadowFrame is the per-frame output of the cascade scheduler: one
// descriptor per active cascade plus the split depths the shaders use to pick
// a cascade.
type ShadowFrame struct {
	Cascades  []metadata.CascadeDescriptor
	SplitsNdc [4]float32
}

// Reset truncates the frame for reuse. Cascade instance and batch storage is
// kept and recycled by the scheduler.
func (f *ShadowFrame) Reset() {
	f.Cascades = f.Cascades[:0]
	f.SplitsNdc = [4]float32{}
}

// nextCascade extends the cascade list by one, recycling the previous
// frame's slot (and its slice capacity) when available.
func (f *ShadowFrame) nextCascade() *metadata.CascadeDescriptor {
	if len(f.Cascades) < cap(f.Cascades) {
		f.Cascades = f.Cascades[:len(f.Cascades)+1]
	} else {
		f.Cascades = append(f.Cascades, metadata.CascadeDescriptor{})
	}
	c := &f.Cascades[len(f.Cascades)-1]
	c.Instances = c.Instances[:0]
	c.Batches = c.Batches[:0]
	return c
}

// CascadedShadowScheduler fits directional shadow cascades to the camera
// frustum and collects the casters each cascade draws. It keeps scratch
// storage so steady-state frames allocate nothing.
type CascadedShadowScheduler struct {
	order []int
}

func NewCascadedShadowScheduler() *CascadedShadowScheduler {
	return &CascadedShadowScheduler{}
}

// Schedule computes the cascades for the frame. It returns false, leaving out
// empty, when shadows are disabled, the strength is zero, there is no light,
// the light does not cast shadows, or the shadow targets are unavailable.
func (s *CascadedShadowScheduler) Schedule(settings *config.RenderSettings, snap *SceneSnapshot, cam *scene.Camera, light *scene.Light, targetsReady bool, out *ShadowFrame) bool {
	out.Reset()
	if !settings.EnableShadows || settings.ShadowStrength <= 0 || light == nil || !light.CastsShadows || !targetsReady {
		return false
	}

	count := clampU32(settings.CascadeCount, 1, config.MaxCascades)
	size := clampU32(settings.ShadowMapSize, config.MinShadowMapSize, config.MaxShadowMapSize)

	near, far := cam.Near, cam.Far
	a := far / (far - near)
	b := -near * far / (far - near)
	toNdc := func(z float32) float32 { return a + b/z }

	// Log/lin blended split scheme.
	splits := [config.MaxCascades + 1]float32{near}
	ratio := float64(far / near)
	for i := uint32(1); i <= count; i++ {
		t := float64(i) / float64(count)
		logSplit := float32(float64(near) * math.Pow(ratio, t))
		linSplit := near + (far-near)*float32(t)
		splits[i] = settings.CascadeLambda*logSplit + (1-settings.CascadeLambda)*linSplit
	}
	splits[count] = far

	dir := light.NormalizedDirection()
	up := mgl32.Vec3{0, 1, 0}
	if abs32(dir.Y()) > 0.98 {
		up = mgl32.Vec3{0, 0, 1}
	}

	invViewProj := snap.ViewProjection.Inv()

	for i := uint32(0); i < count; i++ {
		ndcNear := toNdc(splits[i])
		ndcFar := toNdc(splits[i+1])
		if i == count-1 {
			ndcFar = 1.0
		}
		out.SplitsNdc[i] = ndcFar

		corners := sliceCorners(invViewProj, ndcNear, ndcFar)

		var center mgl32.Vec3
		for _, c := range corners {
			center = center.Add(c)
		}
		center = center.Mul(1.0 / 8.0)

		eye := center.Sub(dir.Mul(shadowEyeDistance))
		view := scene.LookAtLH(eye, center, up)

		minB := mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
		maxB := minB.Mul(-1)
		for _, c := range corners {
			p := view.Mul4x1(c.Vec4(1))
			minB = mgl32.Vec3{min32(minB.X(), p.X()), min32(minB.Y(), p.Y()), min32(minB.Z(), p.Z())}
			maxB = mgl32.Vec3{max32(maxB.X(), p.X()), max32(maxB.Y(), p.Y()), max32(maxB.Z(), p.Z())}
		}

		extent := maxB.Sub(minB)
		padXY := max32(2, 0.05*max32(extent.X(), extent.Y()))
		padZ := max32(10, 0.10*extent.Z())
		minX, maxX := minB.X()-padXY, maxB.X()+padXY
		minY, maxY := minB.Y()-padXY, maxB.Y()+padXY
		minZ, maxZ := minB.Z()-padZ, maxB.Z()+padZ

		// Snap the window to the shadow texel grid so cascade edges do not
		// shimmer as the camera moves.
		texelX := (maxX - minX) / float32(size)
		texelY := (maxY - minY) / float32(size)
		snapX := float32(math.Floor(float64(minX/texelX))) * texelX
		snapY := float32(math.Floor(float64(minY/texelY))) * texelY
		maxX += snapX - minX
		maxY += snapY - minY
		minX, minY = snapX, snapY

		cascade := out.nextCascade()
		cascade.ViewProj = scene.OrthoLH(minX, maxX, minY, maxY, minZ, maxZ).Mul4(view)
		cascade.SplitNdc = ndcFar
		s.collectCasters(settings, snap, cascade)
	}
	for i := count; i < config.MaxCascades; i++ {
		out.SplitsNdc[i] = 1.0
	}
	return true
}

// collectCasters culls shadow casters against the cascade volume and batches
// them by mesh alone; shadow draws are depth-only so material state never
// splits a batch.
func (s *CascadedShadowScheduler) collectCasters(settings *config.RenderSettings, snap *SceneSnapshot, cascade *metadata.CascadeDescriptor) {
	frustum := scene.FrustumFromViewProjection(cascade.ViewProj)

	s.order = s.order[:0]
	for i := range snap.Items {
		item := &snap.Items[i]
		if item.Flags&metadata.InstanceFlagCastsShadows == 0 {
			continue
		}
		if !frustum.IntersectsSphere(scene.Sphere{Center: item.BoundsCenter, Radius: item.BoundsRadius}) {
			continue
		}
		if settings.MinCasterScreenRadius > 0 {
			dist := item.BoundsCenter.Sub(snap.CameraPosition).Len()
			if dist > 0 && item.BoundsRadius/dist < settings.MinCasterScreenRadius {
				continue
			}
		}
		s.order = append(s.order, i)
	}
	if len(s.order) == 0 {
		return
	}

	sort.SliceStable(s.order, func(x, y int) bool {
		return meshSortID(snap.Items[s.order[x]].Mesh) < meshSortID(snap.Items[s.order[y]].Mesh)
	})

	var current *metadata.DrawBatch
	for _, idx := range s.order {
		item := &snap.Items[idx]
		cascade.Instances = append(cascade.Instances, metadata.InstanceRecord{
			World:     item.World,
			Normal:    item.Normal,
			LightMask: item.LightMask,
			Flags:     item.Flags,
		})

		if current == nil || current.Mesh != item.Mesh {
			cascade.Batches = append(cascade.Batches, metadata.DrawBatch{
				Mesh:          item.Mesh,
				MaterialSlot:  -1,
				FirstInstance: uint32(len(cascade.Instances) - 1),
				InstanceCount: 1,
			})
			current = &cascade.Batches[len(cascade.Batches)-1]
		} else {
			current.InstanceCount++
		}
	}
}

// sliceCorners unprojects the eight corners of one depth slice of the camera
// frustum back into world space.
func sliceCorners(invViewProj mgl32.Mat4, ndcNear, ndcFar float32) [8]mgl32.Vec3 {
	var out [8]mgl32.Vec3
	i := 0
	for _, z := range [2]float32{ndcNear, ndcFar} {
		for _, y := range [2]float32{-1, 1} {
			for _, x := range [2]float32{-1, 1} {
				p := invViewProj.Mul4x1(mgl32.Vec4{x, y, z, 1})
				w := p.W()
				if w == 0 {
					w = 1
				}
				out[i] = mgl32.Vec3{p.X() / w, p.Y() / w, p.Z() / w}
				i++
			}
		}
	}
	return out
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
