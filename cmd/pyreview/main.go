// Command pyreview renders a number of frames with the Forward
// pipeline and prints the frame timing tree. It is a smoke test for
// the full stack: device selection, renderer assembly, shared resource
// negotiation, and the per-frame loop.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/pyre"
	"github.com/gogpu/pyre/asset"
	"github.com/gogpu/pyre/components"
	"github.com/gogpu/pyre/gfx"
	_ "github.com/gogpu/pyre/gfx/null"
	_ "github.com/gogpu/pyre/gfx/wgpu"
	"github.com/gogpu/pyre/renderers"
)

func main() {
	var (
		width    = flag.Int("width", 1280, "output width")
		height   = flag.Int("height", 720, "output height")
		frames   = flag.Int("frames", 60, "frames to render")
		backend  = flag.String("backend", "", "gfx backend (default: best available)")
		renderer = flag.String("renderer", renderers.ForwardName, "renderer pipeline")
		envMap   = flag.String("env", "", "equirectangular environment map")
		debug    = flag.String("debug-view", "", "debug view to display")
		verbose  = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *verbose {
		pyre.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	dev, err := pickDevice(*backend)
	if err != nil {
		log.Fatalf("no usable device: %v", err)
	}
	if err := dev.Init(); err != nil {
		log.Fatalf("device init: %v", err)
	}
	log.Printf("device: %s", dev.Name())

	eng := pyre.New(dev,
		pyre.WithWindowSize(uint32(*width), uint32(*height)))
	defer eng.Terminate()

	if err := eng.SetRenderer(*renderer); err != nil {
		log.Fatalf("renderer %q: %v", *renderer, err)
	}

	if lb, ok := eng.Component(components.LightBuilderName).(*components.LightBuilder); ok {
		lb.SetLights(demoLights())
	}
	if *envMap != "" {
		img, err := asset.LoadEnvironmentMap(*envMap)
		if err != nil {
			log.Fatalf("environment map: %v", err)
		}
		for _, t := range eng.Techniques() {
			if sky, ok := t.(interface{ SetEnvironment(*asset.Image) }); ok {
				sky.SetEnvironment(img)
			}
		}
	}
	if *debug != "" {
		if err := eng.SetDebugView(*debug); err != nil {
			log.Fatalf("debug view: %v (have %v)", err, eng.DebugViews())
		}
	}

	for i := 0; i < *frames; i++ {
		if err := eng.Render(); err != nil {
			log.Fatalf("frame %d: %v", i, err)
		}
	}

	fmt.Printf("rendered %d frames, average %.2f ms\n",
		*frames, eng.Profiler().FrameTimes().Average())
	if tree := eng.Profiler().Tree(); tree != nil {
		printNode(tree, 0)
	}
}

func pickDevice(name string) (gfx.Device, error) {
	if name == "" {
		return gfx.Default()
	}
	return gfx.Get(name)
}

func demoLights() []components.Light {
	return []components.Light{
		{Position: mgl32.Vec3{0, 8, 0}, Radius: 0.5, Color: mgl32.Vec3{1, 0.95, 0.8}, Intensity: 60},
		{Position: mgl32.Vec3{-4, 3, 4}, Radius: 0.3, Color: mgl32.Vec3{0.2, 0.4, 1}, Intensity: 25},
		{Position: mgl32.Vec3{4, 3, -4}, Radius: 0.3, Color: mgl32.Vec3{1, 0.3, 0.2}, Intensity: 25},
	}
}

func printNode(n *pyre.TimedNode, depth int) {
	fmt.Printf("%s%-24s cpu %7.3f ms  gpu %7.3f ms\n",
		strings.Repeat("  ", depth), n.Name,
		n.CPU.Seconds()*1000, n.GPU.Seconds()*1000)
	for _, c := range n.Children {
		printNode(c, depth+1)
	}
}
