//go:build mage

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Shader variants the renderer requests at runtime: program source plus the
// define list selecting the variant. Output names follow the loader's
// convention of source + lowercased defines.
var shaderVariants = []struct {
	source  string
	defines []string
	hasFrag bool
}{
	{"shaders/pbr", nil, true},
	{"shaders/pbr", []string{"SHADING_UNLIT"}, true},
	{"shaders/pbr", []string{"SHADING_RIM_GLOW"}, true},
	{"shaders/pbr", []string{"BLEND_ALPHA"}, true},
	{"shaders/pbr", []string{"SHADING_UNLIT", "BLEND_ALPHA"}, true},
	{"shaders/pbr", []string{"SHADING_RIM_GLOW", "BLEND_ALPHA"}, true},
	{"shaders/depth", nil, false},
	{"shaders/depth", []string{"SHADOW_PASS"}, false},
}

// Compiles every shader variant the renderer can request.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and the engine binary.
func (Build) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/crown", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	for _, v := range shaderVariants {
		base := v.source
		for _, d := range v.defines {
			base += "." + strings.ToLower(d)
		}

		args := []string{"-fshader-stage=vertex", v.source + ".vert"}
		for _, d := range v.defines {
			args = append(args, "-D"+d)
		}
		args = append(args, "-o", base+".vert.spv")
		if _, err := executeCmd("glslc", withArgs(args...), withStream()); err != nil {
			return fmt.Errorf("vertex shader %s: %w", base, err)
		}

		if !v.hasFrag {
			continue
		}
		args = []string{"-fshader-stage=fragment", v.source + ".frag"}
		for _, d := range v.defines {
			args = append(args, "-D"+d)
		}
		args = append(args, "-o", base+".frag.spv")
		if _, err := executeCmd("glslc", withArgs(args...), withStream()); err != nil {
			return fmt.Errorf("fragment shader %s: %w", base, err)
		}
	}
	return nil
}
