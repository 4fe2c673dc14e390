package main

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/profiler"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// frameStat is the timing of one traced frame.
type frameStat struct {
	index  int
	render time.Duration
	rays   uint64
}

// RenderFrames traces frames on the headless device and writes the last one as a PNG.
func RenderFrames(ctx *cli.Context) error {
	width, height := uint32(ctx.Int("width")), uint32(ctx.Int("height"))
	frames := ctx.Int("frames")
	if width == 0 || height == 0 || frames < 1 {
		return errors.New("width, height and frames must be positive")
	}

	dev, err := device.NewDevice(device.WithBackend(device.BackendTypeHeadless))
	if err != nil {
		return err
	}
	defer dev.Release()

	s, err := newSession(ctx, dev, width, height)
	if err != nil {
		return err
	}
	defer s.Release()

	eng, err := engine.NewEngine(
		engine.WithRenderer(s.renderer),
		engine.WithCamera(s.camera),
		engine.WithProfiler(profiler.NewProfiler(profiler.WithMemoryStats(false))),
	)
	if err != nil {
		return err
	}

	stats := make([]frameStat, 0, frames)
	for i := 0; i < frames; i++ {
		start := time.Now()
		if err := eng.RenderFrame(float32(i) / 60); err != nil {
			return err
		}
		stats = append(stats, frameStat{index: i, render: time.Since(start), rays: uint64(width) * uint64(height)})
	}
	displayFrameStats(stats)

	pixels, err := dev.ReadTexture(s.renderer.Output())
	if err != nil {
		return fmt.Errorf("failed to read the output: %w", err)
	}
	out := ctx.String("out")
	if err := writePNG(out, pixels, int(width), int(height)); err != nil {
		return err
	}
	common.Logger().Info("frame written", "path", out, "width", width, "height", height, "frames", frames)
	return nil
}

func displayFrameStats(stats []frameStat) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Frame", "Render time", "Mrays/s"})

	var total time.Duration
	var rays uint64
	for _, s := range stats {
		total += s.render
		rays += s.rays
		table.Append([]string{
			fmt.Sprintf("%d", s.index),
			s.render.String(),
			fmt.Sprintf("%.3f", mraysPerSecond(s.rays, s.render)),
		})
	}
	table.SetFooter([]string{"TOTAL", total.String(), fmt.Sprintf("%.3f", mraysPerSecond(rays, total))})
	table.Render()
	fmt.Print(buf.String())
}

func mraysPerSecond(rays uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(rays) / d.Seconds() / 1e6
}

// writePNG clamps RGBA float texels to 8 bits and encodes them.
func writePNG(path string, pixels []float32, width, height int) error {
	if len(pixels) < width*height*4 {
		return fmt.Errorf("output holds %d values, want %d", len(pixels), width*height*4)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			img.SetNRGBA(x, y, color.NRGBA{
				R: toByte(pixels[i]),
				G: toByte(pixels[i+1]),
				B: toByte(pixels[i+2]),
				A: 255,
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func toByte(v float32) uint8 {
	if v != v || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
