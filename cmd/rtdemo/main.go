package main

import (
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/pipeline"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	sceneFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "scene, s",
			Usage: "glTF or GLB scene to render instead of the built-in demo scene",
		},
		cli.StringFlag{
			Name:  "env",
			Usage: "equirectangular environment image (png, jpeg, bmp, tiff or webp)",
		},
		cli.IntFlag{
			Name:  "max-texture",
			Value: 2048,
			Usage: "downscale textures larger than this on either side",
		},
		cli.IntFlag{
			Name:  "width",
			Value: 320,
			Usage: "frame width",
		},
		cli.IntFlag{
			Name:  "height",
			Value: 180,
			Usage: "frame height",
		},
		cli.Float64Flag{
			Name:  "radius",
			Value: 6,
			Usage: "orbit camera distance from the target",
		},
		cli.StringFlag{
			Name:  "target",
			Value: "0,0.5,0",
			Usage: "orbit camera target as x,y,z",
		},
		cli.IntFlag{
			Name:  "heap",
			Value: 256,
			Usage: "descriptor heap size in slots",
		},
		cli.Uint64Flag{
			Name:  "seed",
			Usage: "jitter seed; 0 picks one from the clock",
		},
		cli.BoolFlag{
			Name:  "no-denoise",
			Usage: "show the raw traced color instead of the compositor output",
		},
		cli.BoolFlag{
			Name:  "progressive",
			Usage: "accumulate frames while the camera holds still",
		},
		cli.UintFlag{
			Name:  "max-iterations",
			Value: uint(pipeline.DefaultMaxIterations),
			Usage: "frames the progressive pipeline accumulates before it stops tracing",
		},
	}

	app := cli.NewApp()
	app.Name = "rtdemo"
	app.Usage = "trace scenes with the oxy-rt shader binding table framework"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		setupLogging(ctx)
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "render",
			Usage: "render frames on the headless device and save the last one",
			Description: `
Build the scene acceleration structures, fill the shader table and trace the given
number of frames with the host shaders. The final frame is written as a PNG.`,
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "frames, n",
					Value: 1,
					Usage: "number of frames to trace",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frame",
				},
			}, sceneFlags...),
			Action: RenderFrames,
		},
		{
			Name:   "layout",
			Usage:  "print the shader binding table layout of a scene",
			Flags:  sceneFlags,
			Action: PrintLayout,
		},
		{
			Name:  "window",
			Usage: "open an interactive window on the WebGPU device",
			Description: `
Space toggles ray tracing, P pauses the light animation, D toggles denoising.
Drag with the left button to orbit and scroll to zoom. Escape quits.`,
			Flags: append([]cli.Flag{
				cli.BoolFlag{
					Name:  "software",
					Usage: "force a software adapter",
				},
				cli.Float64Flag{
					Name:  "fps-limit",
					Usage: "cap the render loop; 0 is uncapped",
				},
			}, sceneFlags...),
			Action: RunWindow,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rtdemo:", err)
		os.Exit(1)
	}
}
