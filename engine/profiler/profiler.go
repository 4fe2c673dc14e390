package profiler

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// Stats is one reporting interval of frame timing, ray throughput and memory statistics.
type Stats struct {
	FPS       float64
	FrameTime time.Duration
	// Sections holds the mean time per frame of each measured section.
	Sections      map[string]time.Duration
	RaysPerSecond float64

	HeapMB      float64
	AllocRateMB float64
	SysMB       float64
	GCCount     uint32
	LastPause   time.Duration
	MaxPause    time.Duration
}

// Profiler tracks frame rate, per-section frame time and ray throughput. Stats are logged
// through the engine logger at a configurable interval. It is safe for concurrent use.
type Profiler struct {
	mu *sync.Mutex

	now            func() time.Time
	updateInterval time.Duration
	readMemory     bool

	frameCount     int
	lastTime       time.Time
	sections       map[string]time.Duration
	rays           uint64
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	last Stats
}

// ProfilerOption is a functional option for configuring a Profiler via NewProfiler.
type ProfilerOption func(*Profiler)

// WithInterval sets how often Tick reports.
//
// Parameters:
//   - d: the reporting interval
//
// Returns:
//   - ProfilerOption: a function that applies the interval
func WithInterval(d time.Duration) ProfilerOption {
	return func(p *Profiler) {
		p.updateInterval = d
	}
}

// WithClock replaces time.Now.
//
// Parameters:
//   - now: the clock
//
// Returns:
//   - ProfilerOption: a function that applies the clock
func WithClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) {
		p.now = now
	}
}

// WithMemoryStats toggles reading runtime memory statistics on each report.
//
// Parameters:
//   - enabled: false to skip runtime.ReadMemStats
//
// Returns:
//   - ProfilerOption: a function that applies the toggle
func WithMemoryStats(enabled bool) ProfilerOption {
	return func(p *Profiler) {
		p.readMemory = enabled
	}
}

// NewProfiler creates a Profiler reporting once a second.
//
// Parameters:
//   - options: variadic list of ProfilerOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerOption) *Profiler {
	p := &Profiler{
		mu:             &sync.Mutex{},
		now:            time.Now,
		updateInterval: time.Second,
		readMemory:     true,
		sections:       make(map[string]time.Duration),
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Measure starts timing a section of the current frame. Calling the returned function
// stops it. Time accumulates over every call in the interval.
//
// Parameters:
//   - section: the section name
//
// Returns:
//   - func(): stops the measurement
func (p *Profiler) Measure(section string) func() {
	start := p.now()
	return func() {
		d := p.now().Sub(start)
		p.mu.Lock()
		p.sections[section] += d
		p.mu.Unlock()
	}
}

// AddRays counts rays launched in the current interval.
//
// Parameters:
//   - n: the number of rays
func (p *Profiler) AddRays(n uint64) {
	p.mu.Lock()
	p.rays += n
	p.mu.Unlock()
}

// Tick should be called once per frame. It logs and stores the statistics when the
// update interval has elapsed.
//
// Returns:
//   - bool: true if stats were reported this tick
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval || elapsed <= 0 {
		return false
	}

	seconds := elapsed.Seconds()
	s := Stats{
		FPS:           float64(p.frameCount) / seconds,
		FrameTime:     elapsed / time.Duration(p.frameCount),
		Sections:      make(map[string]time.Duration, len(p.sections)),
		RaysPerSecond: float64(p.rays) / seconds,
	}
	for name, total := range p.sections {
		s.Sections[name] = total / time.Duration(p.frameCount)
	}
	if p.readMemory {
		p.readMemoryLocked(&s, seconds)
	}
	p.last = s
	p.log(s)

	p.frameCount = 0
	p.lastTime = currentTime
	p.rays = 0
	clear(p.sections)
	return true
}

func (p *Profiler) readMemoryLocked(s *Stats, seconds float64) {
	runtime.ReadMemStats(&p.memStats)
	s.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	s.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	s.AllocRateMB = float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / seconds

	// PauseNs is a circular buffer of the last 256 pauses
	gcCount := p.memStats.NumGC
	s.GCCount = gcCount
	if gcCount > 0 {
		s.LastPause = time.Duration(p.memStats.PauseNs[(gcCount-1)%256])
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			s.MaxPause = max(s.MaxPause, time.Duration(p.memStats.PauseNs[i%256]))
		}
	}
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
}

func (p *Profiler) log(s Stats) {
	attrs := []any{
		"fps", s.FPS,
		"frame", s.FrameTime,
		"mrays_per_s", s.RaysPerSecond / 1e6,
	}
	names := make([]string, 0, len(s.Sections))
	for name := range s.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		attrs = append(attrs, name, s.Sections[name])
	}
	if p.readMemory {
		attrs = append(attrs, "heap_mb", s.HeapMB, "alloc_mb_per_s", s.AllocRateMB,
			"gc", s.GCCount, "gc_last", s.LastPause, "gc_max", s.MaxPause, "sys_mb", s.SysMB)
	}
	common.Logger().Info("profiler", attrs...)
}

// Stats returns the statistics of the last completed interval.
//
// Returns:
//   - Stats: the last report, zero before the first
func (p *Profiler) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
