package main

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/window"
	"github.com/urfave/cli"
)

// RunWindow opens a GLFW window, renders into its surface on the WebGPU device and
// blocks until the window is closed.
func RunWindow(ctx *cli.Context) error {
	win, err := window.NewWindow(
		window.WithTitle("oxy-rt"),
		window.WithSize(ctx.Int("width"), ctx.Int("height")),
	)
	if err != nil {
		return err
	}
	defer win.Close()

	dev, err := device.NewDevice(
		device.WithBackend(device.BackendTypeWGPU),
		device.WithSurface(win.SurfaceDescriptor()),
		device.WithForceSoftwareAdapter(ctx.Bool("software")),
	)
	if err != nil {
		return err
	}
	defer dev.Release()

	width, height := win.Size()
	s, err := newSession(ctx, dev, uint32(width), uint32(height))
	if err != nil {
		return err
	}
	defer s.Release()

	eng, err := engine.NewEngine(
		engine.WithWindow(win),
		engine.WithRenderer(s.renderer),
		engine.WithCamera(s.camera),
		engine.WithProfiling(true),
		engine.WithRenderFrameLimit(ctx.Float64("fps-limit")),
	)
	if err != nil {
		return err
	}
	common.Logger().Info("window opened", "width", width, "height", height, "backend", "wgpu")
	return eng.Run()
}
