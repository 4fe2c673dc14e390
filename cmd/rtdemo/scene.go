package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/loader"
	"github.com/Carmen-Shannon/oxy-rt/engine/model"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
	"github.com/urfave/cli"
)

// session is a loaded renderer with the scene and camera it renders.
type session struct {
	renderer renderer.Renderer
	scene    scene.Scene
	camera   camera.Camera
}

func (s *session) Release() {
	if s.renderer != nil {
		s.renderer.Release()
	}
	if s.scene != nil {
		s.scene.Release()
	}
}

// newSession loads the scene named by the flags, or the demo scene, creates a renderer
// for it on dev and builds everything Render needs.
func newSession(ctx *cli.Context, dev device.Device, width, height uint32) (*session, error) {
	l := loader.NewLoader(loader.WithMaxTextureDimension(ctx.Int("max-texture")))

	var (
		sc        scene.Scene
		materials []common.MaterialParams
		err       error
	)
	if path := ctx.String("scene"); path != "" {
		imported, err := l.LoadScene(path)
		if err != nil {
			return nil, err
		}
		if sc, materials, err = imported.Instantiate(dev); err != nil {
			return nil, err
		}
	} else if sc, materials, err = demoScene(dev); err != nil {
		return nil, err
	}
	s := &session{scene: sc}

	pipelineOptions := []pipeline.PipelineBuilderOption{
		pipeline.WithMaterials(materials...),
		pipeline.WithMaxIterations(uint32(ctx.Uint("max-iterations"))),
	}
	if seed := ctx.Uint64("seed"); seed != 0 {
		pipelineOptions = append(pipelineOptions, pipeline.WithSeed(seed))
	}
	if env := ctx.String("env"); env != "" {
		tex, err := l.LoadTexture(env)
		if err != nil {
			s.Release()
			return nil, err
		}
		pipelineOptions = append(pipelineOptions, pipeline.WithEnvironmentTexture(tex))
	}

	if s.renderer, err = renderer.NewRenderer(dev, width, height,
		renderer.WithDenoise(!ctx.Bool("no-denoise")),
		renderer.WithDescriptorHeapSize(ctx.Int("heap")),
		renderer.WithProgressive(ctx.Bool("progressive")),
		renderer.WithPipelineOptions(pipelineOptions...),
	); err != nil {
		s.Release()
		return nil, err
	}

	target, err := parseVec3(ctx.String("target"))
	if err != nil {
		s.Release()
		return nil, err
	}
	s.camera = camera.NewCamera(
		camera.WithAspect(float32(width)/float32(max(height, 1))),
		camera.WithController(camera.NewOrbitController(
			camera.WithOrbitTarget(target),
			camera.WithRadius(float32(ctx.Float64("radius"))),
		)),
	)
	if err := s.renderer.Load(sc, s.camera); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

// demoScene is a ground plane with a diffuse, a glossy and a glass cube.
func demoScene(dev device.Device) (scene.Scene, []common.MaterialParams, error) {
	ground, err := model.NewModel(dev, model.WithName("ground"), model.WithMesh(model.PlaneMesh(20)))
	if err != nil {
		return nil, nil, err
	}
	cube, err := model.NewModel(dev, model.WithName("cube"), model.WithMesh(model.CubeMesh(1)))
	if err != nil {
		ground.Release()
		return nil, nil, err
	}

	diffuse := material.NewMaterial(
		material.WithName("blue"),
		material.WithBaseColor([4]float32{0.2, 0.35, 0.8, 1}),
	)
	glossy := material.NewMaterial(
		material.WithName("red"),
		material.WithBaseColor([4]float32{0.85, 0.2, 0.15, 1}),
		material.WithMetallic(0.8),
		material.WithRoughness(0.2),
	)
	glass := material.NewMaterial(
		material.WithName("glass"),
		material.WithBaseColor([4]float32{0.95, 0.95, 0.95, 1}),
		material.WithTransmission(1),
	)

	s := scene.NewScene("demo",
		scene.WithModel(ground, common.Identity4()),
		scene.WithModel(cube, common.Translation(common.Vec3{-1.6, 0.5, 0})),
		scene.WithModel(cube, common.Translation(common.Vec3{0, 0.5, -0.5})),
		scene.WithModel(cube, common.Translation(common.Vec3{1.6, 0.5, 0})),
	)
	return s, []common.MaterialParams{material.Default(), diffuse.Params(), glossy.Params(), glass.Params()}, nil
}

func parseVec3(s string) (common.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return common.Vec3{}, fmt.Errorf("vector %q must have 3 comma separated components", s)
	}
	var v common.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return common.Vec3{}, fmt.Errorf("vector %q: %w", s, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}
