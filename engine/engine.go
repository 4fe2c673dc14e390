package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/profiler"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rt/engine/window"
)

var ErrNoRenderer = errors.New("engine requires a renderer")

// engine implements the Engine interface.
// Coordinates the tick, render and window threads.
type engine struct {
	mu *sync.Mutex

	tickRateChannel chan time.Duration

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once

	window   window.Window
	renderer renderer.Renderer
	camera   camera.Camera

	profiler         *profiler.Profiler
	profilingEnabled bool
	pendingTitle     string

	engineTickRate   time.Duration
	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
	maxFrames        uint32        // frames rendered before Run returns; 0 = unlimited
	tickCallback     func(deltaTime float32)
	renderCallback   func(deltaTime float32)

	start time.Time
	err   error
}

// Engine is the main entry point of the viewer. It runs a fixed-rate tick loop for camera
// and application updates, a render loop that updates, renders and presents the
// renderer, and the window message loop when a window is attached.
type Engine interface {
	Window() window.Window
	Renderer() renderer.Renderer
	Camera() camera.Camera
	Profiler() *profiler.Profiler

	// EnableProfiler enables frame statistics logging.
	EnableProfiler()

	// DisableProfiler disables frame statistics logging.
	DisableProfiler()

	// SetTickRate sets the tick rate in ticks per second.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each tick after the camera update.
	//
	// Parameters:
	//   - callback: function receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each presented frame.
	//
	// Parameters:
	//   - callback: function receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap.
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// HandleKey applies the viewer key bindings: space toggles ray tracing, P pauses the
	// light animation, D toggles the denoise compositor and R restarts frame accumulation.
	//
	// Parameters:
	//   - keyCode: the key code (see common.Key*)
	HandleKey(keyCode uint32)

	// RenderFrame updates, renders and presents one frame.
	//
	// Parameters:
	//   - elapsed: seconds since start, which drives the light animation
	//
	// Returns:
	//   - error: an update, render or present error
	RenderFrame(elapsed float32) error

	// Run starts the tick and render loops and blocks until the window closes, Quit is
	// called, the frame limit is reached or a frame fails.
	//
	// Returns:
	//   - error: the first frame error, or nil
	Run() error

	// Quit signals all engine goroutines to stop. Safe to call multiple times.
	Quit()
}

// NewEngine creates an Engine around a renderer. When a window is attached its resize,
// key, drag and scroll events are wired to the renderer and camera.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: ErrNoRenderer if no renderer was supplied
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		mu:              &sync.Mutex{},
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		profiler:        profiler.NewProfiler(),
		engineTickRate:  time.Second / 60,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.renderer == nil {
		return nil, ErrNoRenderer
	}
	if e.window != nil {
		e.wireWindow()
	}
	return e, nil
}

func (e *engine) wireWindow() {
	e.window.SetResizeCallback(func(width, height int) {
		if width <= 0 || height <= 0 {
			return
		}
		if err := e.renderer.Resize(uint32(width), uint32(height)); err != nil {
			common.Logger().Error("resize failed", "width", width, "height", height, "error", err)
		}
		if e.camera != nil {
			e.camera.SetAspect(float32(width) / float32(height))
		}
	})
	e.window.SetKeyDownCallback(e.HandleKey)
	e.window.SetDragCallback(func(dx, dy float32) {
		if ctrl := e.controller(); ctrl != nil {
			ctrl.Orbit(-dx, dy)
		}
	})
	e.window.SetScrollCallback(func(delta float32) {
		if ctrl := e.controller(); ctrl != nil {
			ctrl.Zoom(delta)
		}
	})
	// GLFW calls must stay on the thread running the message loop.
	e.window.SetUpdateCallback(func() {
		select {
		case <-e.quitChannel:
			_ = e.window.Close()
			return
		default:
		}
		e.mu.Lock()
		title := e.pendingTitle
		e.pendingTitle = ""
		e.mu.Unlock()
		if title != "" {
			e.window.SetTitle(title)
		}
	})
}

func (e *engine) controller() camera.CameraController {
	if e.camera == nil {
		return nil
	}
	return e.camera.Controller()
}

func (e *engine) Window() window.Window        { return e.window }
func (e *engine) Renderer() renderer.Renderer  { return e.renderer }
func (e *engine) Camera() camera.Camera        { return e.camera }
func (e *engine) Profiler() *profiler.Profiler { return e.profiler }

func (e *engine) HandleKey(keyCode uint32) {
	switch keyCode {
	case common.KeySpace:
		e.renderer.SetRaytracingEnabled(!e.renderer.RaytracingEnabled())
	case common.KeyP:
		p := e.renderer.Pipeline()
		p.SetAnimationPaused(!p.AnimationPaused())
		common.Logger().Debug("light animation toggled", "paused", p.AnimationPaused())
	case common.KeyD:
		e.renderer.SetDenoiseEnabled(!e.renderer.DenoiseEnabled())
	case common.KeyR:
		e.renderer.Pipeline().ResetAccumulation()
		common.Logger().Debug("frame accumulation restarted")
	}
}

func (e *engine) RenderFrame(elapsed float32) error {
	stop := e.profiler.Measure("update")
	err := e.renderer.Update(elapsed)
	stop()
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	stop = e.profiler.Measure("render")
	err = e.renderer.Render()
	stop()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if e.renderer.RaytracingEnabled() {
		w, h := e.renderer.Size()
		e.profiler.AddRays(uint64(w) * uint64(h))
	}

	stop = e.profiler.Measure("present")
	err = e.renderer.Present()
	stop()
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	return nil
}

func (e *engine) Run() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine is already running")
	}
	e.running = true
	e.start = time.Now()
	e.mu.Unlock()

	e.wg.Add(2)
	go e.handleTick()
	go e.handleRender()

	if e.window != nil {
		// blocks until the window closes or the update callback closes it on quit
		e.window.ProcessMessages()
		e.signalQuit()
	}
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	return e.err
}

func (e *engine) Quit() {
	e.signalQuit()
}

func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) fail(err error) {
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
	common.Logger().Error("frame failed", "error", err)
	e.signalQuit()
}

// handleTick runs the fixed-rate tick loop. Each tick pulls the camera pose from its
// controller, then calls the tick callback.
func (e *engine) handleTick() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()
	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.camera != nil {
				e.camera.Update()
			}
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the render loop until quit. A panic or frame error stops the engine.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("render goroutine panicked: %v", r))
		}
	}()

	lastRender := time.Now()
	var frames uint32
	for {
		select {
		case <-e.quitChannel:
			return
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(lastRender).Seconds())
		lastRender = now

		if err := e.RenderFrame(float32(now.Sub(e.start).Seconds())); err != nil {
			e.fail(err)
			return
		}
		frames++
		if e.renderCallback != nil {
			e.renderCallback(dt)
		}
		if e.profilingEnabled && e.profiler.Tick() && e.window != nil {
			s := e.profiler.Stats()
			e.mu.Lock()
			e.pendingTitle = fmt.Sprintf("oxy-rt | %.1f fps | %.1f Mrays/s", s.FPS, s.RaysPerSecond/1e6)
			e.mu.Unlock()
		}
		if e.maxFrames > 0 && frames >= e.maxFrames {
			e.signalQuit()
			return
		}

		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - time.Since(now); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate takes effect immediately while the engine is running.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		e.engineTickRate = newRate
		return
	}
	// replace any pending update
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}
