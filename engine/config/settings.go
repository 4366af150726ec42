package config

import (
	"golang.org/x/exp/constraints"
)

const (
	MaxCascades       = 3
	MinShadowMapSize  = 256
	MaxShadowMapSize  = 4096
	DefaultShadowSize = 1024
)

// RenderSettings carries every feature toggle and numeric tunable the render
// system consumes. All fields have working defaults; out-of-range values are
// clamped by Sanitize, never rejected.
type RenderSettings struct {
	EnableHDR          bool `toml:"enable_hdr"`
	EnableTonemap      bool `toml:"enable_tonemap"`
	EnableShadows      bool `toml:"enable_shadows"`
	EnablePointShadows bool `toml:"enable_point_shadows"`
	EnableSSAO         bool `toml:"enable_ssao"`
	EnableDepthPrepass bool `toml:"enable_depth_prepass"`

	Exposure float32 `toml:"exposure"`

	ShadowMapSize  uint32  `toml:"shadow_map_size"`
	CascadeCount   uint32  `toml:"cascade_count"`
	CascadeLambda  float32 `toml:"cascade_lambda"`
	ShadowBias     float32 `toml:"shadow_bias"`
	ShadowStrength float32 `toml:"shadow_strength"`
	ShadowSoftness float32 `toml:"shadow_softness"`

	// Casters whose projected radius inside a cascade falls below this
	// fraction of the cascade extent are skipped.
	MinCasterScreenRadius float32 `toml:"min_caster_screen_radius"`

	SSAORadius float32 `toml:"ssao_radius"`
	SSAOBias   float32 `toml:"ssao_bias"`
}

func DefaultRenderSettings() RenderSettings {
	return RenderSettings{
		EnableHDR:             true,
		EnableTonemap:         true,
		EnableShadows:         true,
		EnablePointShadows:    false,
		EnableSSAO:            false,
		EnableDepthPrepass:    false,
		Exposure:              1.0,
		ShadowMapSize:         DefaultShadowSize,
		CascadeCount:          3,
		CascadeLambda:         0.55,
		ShadowBias:            0.00125,
		ShadowStrength:        1.0,
		ShadowSoftness:        1.0,
		MinCasterScreenRadius: 0.0,
		SSAORadius:            0.5,
		SSAOBias:              0.025,
	}
}

// Sanitize clamps every numeric field into its documented range.
func (s *RenderSettings) Sanitize() {
	s.Exposure = clamp(s.Exposure, 0.01, 16.0)
	s.ShadowMapSize = clamp(s.ShadowMapSize, MinShadowMapSize, MaxShadowMapSize)
	s.CascadeCount = clamp(s.CascadeCount, 1, MaxCascades)
	s.CascadeLambda = clamp(s.CascadeLambda, 0.0, 1.0)
	s.ShadowBias = clamp(s.ShadowBias, 0.0, 0.1)
	s.ShadowStrength = clamp(s.ShadowStrength, 0.0, 1.0)
	s.ShadowSoftness = clamp(s.ShadowSoftness, 0.0, 8.0)
	s.MinCasterScreenRadius = clamp(s.MinCasterScreenRadius, 0.0, 1.0)
	s.SSAORadius = clamp(s.SSAORadius, 0.01, 8.0)
	s.SSAOBias = clamp(s.SSAOBias, 0.0, 1.0)
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
