package device

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/cogentcore/webgpu/wgpu"
)

//go:embed shaders/raytracing_prelude.wgsl
var raytracingPrelude string

//go:embed shaders/present.wgsl
var presentShader string

const (
	// dispatchConstantsSize is the byte size of the OxyDispatch uniform.
	dispatchConstantsSize = 12 * 16
	// maxRootArguments is the number of global root slots forwarded to WGSL.
	maxRootArguments = 8
	// descriptorTableRange is the number of group 1 bindings each root descriptor table covers.
	descriptorTableRange = 16
	nullOffset           = 0xFFFFFFFF
)

// wgpuDeviceBackend emulates ray dispatch with compute kernels. The whole arena lives in one
// storage buffer; every ray-tracing pipeline is compiled into a single kernel that walks the
// serialized acceleration structures and calls the library functions its exports name.
//
// GPU writes are not read back, so buffer contents seen through Map are the last CPU writes.
type wgpuDeviceBackend struct {
	d *device

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	surface         *wgpu.Surface
	surfaceFormat   *wgpu.TextureFormat
	presentLayout   *wgpu.BindGroupLayout
	presentPipeline *wgpu.RenderPipeline

	arenaBuffer *wgpu.Buffer
	dirty       map[*buffer]struct{}
	sampler     *wgpu.Sampler
}

var _ deviceBackend = &wgpuDeviceBackend{}

// wgpuRaytracingPipeline holds the uber-kernel of one ray-tracing pipeline.
type wgpuRaytracingPipeline struct {
	pipeline      *wgpu.ComputePipeline
	layouts       []*wgpu.BindGroupLayout
	bindings      []BindingLayout
	workgroupSize [3]uint32
}

type wgpuComputeKernel struct {
	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout
}

type wgpuTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

func (w *wgpuDeviceBackend) init(d *device) error {
	runtime.LockOSThread()
	w.d = d
	w.dirty = make(map[*buffer]struct{})
	w.instance = wgpu.CreateInstance(nil)
	if d.surfaceDescriptor != nil {
		w.surface = w.instance.CreateSurface(d.surfaceDescriptor)
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		return fmt.Errorf("request adapter: %w", err)
	}
	w.adapter = a

	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Ray Tracing Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	w.device = dev
	w.queue = dev.GetQueue()

	w.arenaBuffer, err = dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Arena",
		Size:  d.arena.size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("create arena: %w", err)
	}

	w.sampler, err = dev.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Linear Sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return fmt.Errorf("create sampler: %w", err)
	}
	return nil
}

func toWGPUTextureFormat(f TextureFormat) wgpu.TextureFormat {
	switch f {
	case TextureFormatRGBA8UnormSrgb:
		return wgpu.TextureFormatRGBA8UnormSrgb
	case TextureFormatRGBA16Float:
		return wgpu.TextureFormatRGBA16Float
	case TextureFormatRGBA32Float:
		return wgpu.TextureFormatRGBA32Float
	case TextureFormatBGRA8Unorm:
		return wgpu.TextureFormatBGRA8Unorm
	default:
		return wgpu.TextureFormatRGBA8Unorm
	}
}

func toWGPUTextureUsage(u TextureUsage) wgpu.TextureUsage {
	usage := wgpu.TextureUsageCopyDst | wgpu.TextureUsageRenderAttachment
	if u&TextureUsageSampled != 0 {
		usage |= wgpu.TextureUsageTextureBinding
	}
	if u&TextureUsageStorage != 0 {
		usage |= wgpu.TextureUsageStorageBinding
	}
	if u&TextureUsageCopySrc != 0 {
		usage |= wgpu.TextureUsageCopySrc
	}
	return usage
}

func (w *wgpuDeviceBackend) createTexture(t *texture) error {
	format := toWGPUTextureFormat(t.desc.Format)
	tex, err := w.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     t.desc.Label,
		Usage:     toWGPUTextureUsage(t.desc.Usage) | wgpu.TextureUsageTextureBinding,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              t.desc.Width,
			Height:             t.desc.Height,
			DepthOrArrayLayers: t.Layers(),
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return err
	}

	var view *wgpu.TextureView
	if t.desc.Cube {
		view, err = tex.CreateView(&wgpu.TextureViewDescriptor{
			Label:           t.desc.Label + " Cube View",
			Format:          format,
			Dimension:       wgpu.TextureViewDimensionCube,
			BaseMipLevel:    0,
			MipLevelCount:   1,
			BaseArrayLayer:  0,
			ArrayLayerCount: 6,
			Aspect:          wgpu.TextureAspectAll,
		})
	} else {
		view, err = tex.CreateView(nil)
	}
	if err != nil {
		tex.Release()
		return err
	}
	t.handle = &wgpuTexture{texture: tex, view: view}
	return nil
}

func (w *wgpuDeviceBackend) writeTexture(t *texture, pixels []byte) error {
	wt := t.handle.(*wgpuTexture)
	if t.desc.Format.BytesPerTexel() != 4 {
		return fmt.Errorf("texture %q: uploads need an 8-bit format, have %d bytes per texel", t.desc.Label, t.desc.Format.BytesPerTexel())
	}
	w.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  wt.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  t.desc.Width * 4,
			RowsPerImage: t.desc.Height,
		},
		&wgpu.Extent3D{
			Width:              t.desc.Width,
			Height:             t.desc.Height,
			DepthOrArrayLayers: t.Layers(),
		},
	)
	return nil
}

func (w *wgpuDeviceBackend) readTexture(*texture) ([]float32, error) {
	return nil, errors.ErrUnsupported
}

func (w *wgpuDeviceBackend) releaseTexture(t *texture) {
	wt, ok := t.handle.(*wgpuTexture)
	if !ok {
		return
	}
	wt.view.Release()
	wt.texture.Release()
	t.handle = nil
}

func (w *wgpuDeviceBackend) bufferWritten(b *buffer) {
	w.dirty[b] = struct{}{}
}

// syncArena uploads every buffer written on the CPU since the last GPU command.
func (w *wgpuDeviceBackend) syncArena() {
	for b := range w.dirty {
		if !b.released {
			data := b.data
			if pad := len(data) % 4; pad != 0 {
				data = append(append([]byte(nil), data...), make([]byte, 4-pad)...)
			}
			w.queue.WriteBuffer(w.arenaBuffer, w.d.arena.offset(b.address), data)
		}
		delete(w.dirty, b)
	}
}

// AssembleRaytracingKernel joins the traversal prelude, the library sources and a generated
// dispatcher into the WGSL module that emulates desc on the WebGPU backend. Library
// resources are declared in group 1.
//
// Parameters:
//   - desc: the pipeline exports and libraries
//
// Returns:
//   - string: the complete WGSL source with entry point oxy_main
//   - [3]uint32: the workgroup size, 8x8x1 unless a library declares one
func AssembleRaytracingKernel(desc RaytracingPipelineDescriptor) (string, [3]uint32) {
	workgroupSize := [3]uint32{8, 8, 1}
	sources := make([]string, 0, len(desc.Libraries))
	for _, lib := range desc.Libraries {
		sources = append(sources, lib.Source)
		if lib.WorkgroupSize != [3]uint32{} {
			workgroupSize = lib.WorkgroupSize
		}
	}
	source := raytracingPrelude + "\n" + strings.Join(sources, "\n") + "\n" + generateDispatcher(desc, workgroupSize)
	return source, workgroupSize
}

// generateDispatcher writes the export constants and the switch statements that route
// record identifiers to library functions.
func generateDispatcher(desc RaytracingPipelineDescriptor, workgroupSize [3]uint32) string {
	var sb strings.Builder
	for i, exp := range desc.Exports {
		fmt.Fprintf(&sb, "const OXY_EXPORT_%s: u32 = %du;\n", exp.Name, i+1)
	}

	writeSwitch := func(header, ret string, call func(exp ShaderExport) string) {
		sb.WriteString(header)
		sb.WriteString("    switch export_index {\n")
		for i, exp := range desc.Exports {
			if c := call(exp); c != "" {
				fmt.Fprintf(&sb, "        case %du: { %s }\n", i+1, c)
			}
		}
		sb.WriteString("        default: {}\n    }\n")
		sb.WriteString(ret)
		sb.WriteString("}\n\n")
	}

	writeSwitch("fn oxy_call_miss(export_index: u32, record: u32, payload: ptr<function, Payload>) {\n", "", func(exp ShaderExport) string {
		if exp.Kind != ShaderExportMiss {
			return ""
		}
		return fmt.Sprintf("%s(record, payload);", exp.Shader)
	})
	writeSwitch("fn oxy_call_closest_hit(export_index: u32, record: u32, hit: OxyHit, payload: ptr<function, Payload>) {\n", "", func(exp ShaderExport) string {
		if exp.Kind != ShaderExportHitGroup || exp.ClosestHit == "" {
			return ""
		}
		return fmt.Sprintf("%s(record, hit, payload);", exp.ClosestHit)
	})
	writeSwitch("fn oxy_call_any_hit(export_index: u32, record: u32, hit: OxyHit, payload: ptr<function, Payload>) -> u32 {\n", "    return OXY_ACCEPT;\n", func(exp ShaderExport) string {
		if exp.Kind != ShaderExportHitGroup || exp.AnyHit == "" {
			return ""
		}
		return fmt.Sprintf("return %s(record, hit, payload);", exp.AnyHit)
	})
	writeSwitch("fn oxy_call_ray_generation(export_index: u32, record: u32) {\n", "", func(exp ShaderExport) string {
		if exp.Kind != ShaderExportRayGen {
			return ""
		}
		return fmt.Sprintf("%s(record);", exp.Shader)
	})

	fmt.Fprintf(&sb, "@compute @workgroup_size(%d, %d, %d)\n", workgroupSize[0], workgroupSize[1], workgroupSize[2])
	sb.WriteString(`fn oxy_main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (any(id >= oxy_dispatch.launch.xyz)) {
        return;
    }
    oxy_launch_id = id;
    let record = oxy_dispatch.raygen.x;
    oxy_call_ray_generation(oxy_record_export(record), record);
}
`)
	return sb.String()
}

func toWGPUBindGroupLayoutEntry(b BindingLayout, visibility wgpu.ShaderStage) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{
		Binding:    b.Binding,
		Visibility: visibility,
	}
	switch b.Kind {
	case BindingKindUniformBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
		entry.Buffer.MinBindingSize = b.MinBindingSize
	case BindingKindStorageBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeStorage
	case BindingKindReadOnlyStorageBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
	case BindingKindSampledTexture:
		entry.Texture.SampleType = wgpu.TextureSampleTypeFloat
		entry.Texture.ViewDimension = wgpu.TextureViewDimension2D
		if b.Cube {
			entry.Texture.ViewDimension = wgpu.TextureViewDimensionCube
		}
	case BindingKindStorageTexture:
		entry.StorageTexture.Access = wgpu.StorageTextureAccessWriteOnly
		entry.StorageTexture.Format = toWGPUTextureFormat(b.Format)
		entry.StorageTexture.ViewDimension = wgpu.TextureViewDimension2D
	case BindingKindSampler:
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	}
	return entry
}

func (w *wgpuDeviceBackend) createLayout(label string, entries []wgpu.BindGroupLayoutEntry) (*wgpu.BindGroupLayout, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })
	return w.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: entries,
	})
}

func (w *wgpuDeviceBackend) createRaytracingPipeline(p *raytracingPipeline) error {
	if len(p.desc.Libraries) == 0 {
		return fmt.Errorf("pipeline %q has no shader libraries", p.desc.Label)
	}
	source, workgroupSize := AssembleRaytracingKernel(p.desc)
	wp := &wgpuRaytracingPipeline{workgroupSize: workgroupSize}
	for _, lib := range p.desc.Libraries {
		for _, b := range lib.Bindings {
			if b.Group == 1 {
				wp.bindings = append(wp.bindings, b)
			}
		}
	}

	module, err := w.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: p.desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: source,
		},
	})
	if err != nil {
		return err
	}
	defer module.Release()

	systemLayout, err := w.createLayout(p.desc.Label+" System", []wgpu.BindGroupLayoutEntry{
		{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: dispatchConstantsSize}},
		{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
	})
	if err != nil {
		return err
	}
	wp.layouts = append(wp.layouts, systemLayout)

	if len(wp.bindings) > 0 {
		entries := make([]wgpu.BindGroupLayoutEntry, 0, len(wp.bindings))
		for _, b := range wp.bindings {
			entries = append(entries, toWGPUBindGroupLayoutEntry(b, wgpu.ShaderStageCompute))
		}
		resourceLayout, err := w.createLayout(p.desc.Label+" Resources", entries)
		if err != nil {
			return err
		}
		wp.layouts = append(wp.layouts, resourceLayout)
	}

	layout, err := w.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.desc.Label,
		BindGroupLayouts: wp.layouts,
	})
	if err != nil {
		return err
	}
	defer layout.Release()

	wp.pipeline, err = w.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.desc.Label + " Ray Dispatch",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "oxy_main",
		},
	})
	if err != nil {
		return err
	}
	p.handle = wp
	common.Logger().Debug("ray dispatch kernel compiled", "pipeline", p.desc.Label, "exports", len(p.desc.Exports), "bytes", len(source))
	return nil
}

func (w *wgpuDeviceBackend) releasePipeline(p *raytracingPipeline) {
	wp, ok := p.handle.(*wgpuRaytracingPipeline)
	if !ok {
		return
	}
	wp.pipeline.Release()
	for _, l := range wp.layouts {
		l.Release()
	}
	p.handle = nil
}

func (w *wgpuDeviceBackend) createComputeKernel(k *computeKernel) error {
	module, err := w.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: k.desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: k.desc.Source,
		},
	})
	if err != nil {
		return err
	}
	defer module.Release()

	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(k.desc.Bindings))
	for _, b := range k.desc.Bindings {
		if b.Group == 0 {
			entries = append(entries, toWGPUBindGroupLayoutEntry(b, wgpu.ShaderStageCompute))
		}
	}
	bgl, err := w.createLayout(k.desc.Label, entries)
	if err != nil {
		return err
	}
	layout, err := w.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            k.desc.Label,
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		return err
	}
	defer layout.Release()

	pipeline, err := w.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  k.desc.Label + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: k.desc.EntryPoint,
		},
	})
	if err != nil {
		bgl.Release()
		return err
	}
	k.handle = &wgpuComputeKernel{pipeline: pipeline, layout: bgl}
	return nil
}

func (w *wgpuDeviceBackend) releaseKernel(k *computeKernel) {
	wk, ok := k.handle.(*wgpuComputeKernel)
	if !ok {
		return
	}
	wk.pipeline.Release()
	wk.layout.Release()
	k.handle = nil
}

// arenaOffset maps a device address to an offset in the arena buffer, or nullOffset.
func (w *wgpuDeviceBackend) arenaOffset(addr uint64) uint32 {
	if addr < ArenaBaseAddress || addr >= ArenaBaseAddress+w.d.arena.size {
		return nullOffset
	}
	return uint32(w.d.arena.offset(addr))
}

// heapTable resolves every heap slot to the arena offset of its buffer view.
func (w *wgpuDeviceBackend) heapTable(heap DescriptorHeapView) []byte {
	n := 0
	if heap != nil {
		n = heap.Len()
	}
	out := make([]byte, max(n, 1)*4)
	binary.LittleEndian.PutUint32(out, nullOffset)
	for i := 0; i < n; i++ {
		off := uint32(nullOffset)
		if desc, ok := heap.Descriptor(i); ok && desc.Buffer != nil {
			stride := uint64(desc.Stride)
			if desc.Raw || stride == 0 {
				stride = 4
			}
			off = w.arenaOffset(desc.Buffer.Address() + uint64(desc.FirstElement)*stride)
		}
		binary.LittleEndian.PutUint32(out[i*4:], off)
	}
	return out
}

func (w *wgpuDeviceBackend) dispatchConstants(st *replayState, desc DispatchRaysDesc, maxRecursion uint32, heapSlots int) []byte {
	out := make([]byte, dispatchConstantsSize)
	put := func(word int, v uint32) { binary.LittleEndian.PutUint32(out[word*4:], v) }
	put(0, desc.Width)
	put(1, desc.Height)
	put(2, max(desc.Depth, 1))
	put(3, maxRecursion)
	put(4, w.arenaOffset(desc.RayGenerationShaderRecord.StartAddress))
	put(5, uint32(desc.RayGenerationShaderRecord.SizeInBytes))
	put(6, uint32(heapSlots))
	if st.heap != nil {
		put(7, uint32(st.heap.GPUHandleBase()))
	}
	put(8, w.arenaOffset(desc.MissShaderTable.StartAddress))
	put(9, uint32(desc.MissShaderTable.StrideInBytes))
	put(10, uint32(desc.MissShaderTable.SizeInBytes))
	put(12, w.arenaOffset(desc.HitGroupTable.StartAddress))
	put(13, uint32(desc.HitGroupTable.StrideInBytes))
	put(14, uint32(desc.HitGroupTable.SizeInBytes))
	for slot := 0; slot < maxRootArguments; slot++ {
		arg, ok := st.rootArgs[slot]
		if !ok {
			continue
		}
		base := 16 + slot*4
		put(base, uint32(arg.Kind)+1)
		switch arg.Kind {
		case RootArgumentConstants:
			if len(arg.Constants) > 0 {
				put(base+2, arg.Constants[0])
			}
		case RootArgumentDescriptorTable:
			put(base+1, uint32(arg.Address))
		case RootArgumentConstantBuffer:
			// root constant buffers are bound by GPU address on every device
			put(base+1, w.arenaOffset(arg.Address))
		default:
			if w.d.nativeRaytracing {
				put(base+1, w.arenaOffset(arg.Address))
			} else if b, off, err := w.d.resolvePointerLocked(arg.Address, st.heap); err == nil {
				put(base+1, w.arenaOffset(b.address+off))
			} else {
				put(base+1, nullOffset)
			}
		}
	}
	return out
}

func (w *wgpuDeviceBackend) transientBuffer(label string, data []byte, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  common.AlignUp(uint64(max(len(data), 16)), 16),
		Usage: usage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	w.queue.WriteBuffer(buf, 0, data)
	return buf, nil
}

// resourceEntry binds a buffer view or texture from the descriptor heap or a kernel argument.
func (w *wgpuDeviceBackend) resourceEntry(b BindingLayout, buf Buffer, tex Texture) (wgpu.BindGroupEntry, error) {
	entry := wgpu.BindGroupEntry{Binding: b.Binding}
	switch b.Kind {
	case BindingKindSampler:
		entry.Sampler = w.sampler
	case BindingKindSampledTexture, BindingKindStorageTexture:
		t, ok := tex.(*texture)
		if !ok || t.handle == nil {
			return entry, fmt.Errorf("binding %d (%s) needs a texture", b.Binding, b.Name)
		}
		entry.TextureView = t.handle.(*wgpuTexture).view
	default:
		if buf == nil {
			return entry, fmt.Errorf("binding %d (%s) needs a buffer", b.Binding, b.Name)
		}
		entry.Buffer = w.arenaBuffer
		entry.Offset = w.d.arena.offset(buf.Address())
		entry.Size = buf.Size()
	}
	return entry, nil
}

func (w *wgpuDeviceBackend) dispatchRays(st *replayState, p *raytracingPipeline, desc DispatchRaysDesc) error {
	wp, ok := p.handle.(*wgpuRaytracingPipeline)
	if !ok {
		return fmt.Errorf("pipeline %q was not created on this device", p.desc.Label)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil
	}
	w.syncArena()

	heapSlots := 0
	if st.heap != nil {
		heapSlots = st.heap.Len()
	}
	constants, err := w.transientBuffer("Dispatch Constants", w.dispatchConstants(st, desc, p.MaxTraceRecursionDepth(), heapSlots), wgpu.BufferUsageUniform)
	if err != nil {
		return err
	}
	defer constants.Release()
	heap, err := w.transientBuffer("Heap Table", w.heapTable(st.heap), wgpu.BufferUsageStorage)
	if err != nil {
		return err
	}
	defer heap.Release()

	system, err := w.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  p.desc.Label + " System",
		Layout: wp.layouts[0],
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: constants, Offset: 0, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: w.arenaBuffer, Offset: 0, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: heap, Offset: 0, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}
	defer system.Release()
	groups := []*wgpu.BindGroup{system}

	if len(wp.bindings) > 0 {
		entries := make([]wgpu.BindGroupEntry, 0, len(wp.bindings))
		for _, b := range wp.bindings {
			var view Descriptor
			if b.Kind != BindingKindSampler {
				view, err = w.tableDescriptor(st, b.Binding)
				if err != nil {
					return err
				}
			}
			entry, err := w.resourceEntry(b, view.Buffer, view.Texture)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		resources, err := w.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   p.desc.Label + " Resources",
			Layout:  wp.layouts[1],
			Entries: entries,
		})
		if err != nil {
			return err
		}
		defer resources.Release()
		groups = append(groups, resources)
	}

	x := common.DivideByMultiple(desc.Width, wp.workgroupSize[0])
	y := common.DivideByMultiple(desc.Height, wp.workgroupSize[1])
	z := common.DivideByMultiple(max(desc.Depth, 1), wp.workgroupSize[2])
	return w.encodeDispatch(wp.pipeline, groups, [3]uint32{x, y, z})
}

// tableDescriptor reads the heap entry a group 1 binding maps to. Binding b is element
// b%16 of the descriptor table in root slot b/16.
func (w *wgpuDeviceBackend) tableDescriptor(st *replayState, binding uint32) (Descriptor, error) {
	slot := int(binding / descriptorTableRange)
	arg, ok := st.rootArgs[slot]
	if !ok || arg.Kind != RootArgumentDescriptorTable {
		return Descriptor{}, fmt.Errorf("binding %d: root slot %d holds no descriptor table", binding, slot)
	}
	if st.heap == nil {
		return Descriptor{}, fmt.Errorf("binding %d: no descriptor heap bound", binding)
	}
	desc, ok := descriptorAtHandle(st.heap, arg.Address+uint64(binding%descriptorTableRange)*DescriptorSize)
	if !ok {
		return Descriptor{}, fmt.Errorf("binding %d: descriptor table entry out of range", binding)
	}
	return desc, nil
}

func (w *wgpuDeviceBackend) encodeDispatch(pipeline *wgpu.ComputePipeline, groups []*wgpu.BindGroup, count [3]uint32) error {
	encoder, err := w.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	for i, g := range groups {
		pass.SetBindGroup(uint32(i), g, nil)
	}
	pass.DispatchWorkgroups(count[0], count[1], count[2])
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	w.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

func (w *wgpuDeviceBackend) dispatch(_ *replayState, k *computeKernel, args []KernelArgument, groups [3]uint32) error {
	wk, ok := k.handle.(*wgpuComputeKernel)
	if !ok {
		return fmt.Errorf("kernel %q was not created on this device", k.desc.Label)
	}
	w.syncArena()

	byBinding := make(map[uint32]KernelArgument, len(args))
	for _, a := range args {
		byBinding[a.Binding] = a
	}
	var transient []*wgpu.Buffer
	defer func() {
		for _, b := range transient {
			b.Release()
		}
	}()

	entries := make([]wgpu.BindGroupEntry, 0, len(k.desc.Bindings))
	for _, b := range k.desc.Bindings {
		if b.Group != 0 {
			continue
		}
		arg := byBinding[b.Binding]
		if arg.Data != nil {
			buf, err := w.transientBuffer(k.desc.Label+" Uniform", arg.Data, wgpu.BufferUsageUniform)
			if err != nil {
				return err
			}
			transient = append(transient, buf)
			entries = append(entries, wgpu.BindGroupEntry{Binding: b.Binding, Buffer: buf, Offset: 0, Size: wgpu.WholeSize})
			continue
		}
		entry, err := w.resourceEntry(b, arg.Buffer, arg.Texture)
		if err != nil {
			return fmt.Errorf("kernel %q: %w", k.desc.Label, err)
		}
		entries = append(entries, entry)
	}

	bg, err := w.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   k.desc.Label + " Bind Group",
		Layout:  wk.layout,
		Entries: entries,
	})
	if err != nil {
		return err
	}
	defer bg.Release()
	return w.encodeDispatch(wk.pipeline, []*wgpu.BindGroup{bg}, groups)
}

func (w *wgpuDeviceBackend) clearTexture(t *texture, color [4]float32) error {
	wt := t.handle.(*wgpuTexture)
	encoder, err := w.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    wt.view,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: float64(color[0]),
					G: float64(color[1]),
					B: float64(color[2]),
					A: float64(color[3]),
				},
			},
		},
	})
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	w.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

// barrier is implicit: WebGPU orders storage writes between dispatches.
func (w *wgpuDeviceBackend) barrier() error { return nil }

func (w *wgpuDeviceBackend) flush() error {
	w.syncArena()
	return nil
}

func (w *wgpuDeviceBackend) configureSurface(width, height uint32) error {
	if w.surface == nil {
		return nil
	}
	capabilities := w.surface.GetCapabilities(w.adapter)
	if len(capabilities.Formats) == 0 {
		return errors.New("surface reports no formats")
	}
	if w.surfaceFormat == nil || *w.surfaceFormat != capabilities.Formats[0] {
		w.surfaceFormat = &capabilities.Formats[0]
		if err := w.createPresentPipeline(); err != nil {
			return err
		}
	}
	w.surface.Configure(w.adapter, w.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *w.surfaceFormat,
		Width:       width,
		Height:      height,
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	return nil
}

func (w *wgpuDeviceBackend) createPresentPipeline() error {
	if w.presentPipeline != nil {
		w.presentPipeline.Release()
		w.presentLayout.Release()
	}
	module, err := w.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "Present",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: presentShader,
		},
	})
	if err != nil {
		return err
	}
	defer module.Release()

	w.presentLayout, err = w.createLayout("Present", []wgpu.BindGroupLayoutEntry{
		toWGPUBindGroupLayoutEntry(BindingLayout{Binding: 0, Kind: BindingKindSampledTexture}, wgpu.ShaderStageFragment),
		toWGPUBindGroupLayoutEntry(BindingLayout{Binding: 1, Kind: BindingKindSampler}, wgpu.ShaderStageFragment),
	})
	if err != nil {
		return err
	}
	layout, err := w.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Present",
		BindGroupLayouts: []*wgpu.BindGroupLayout{w.presentLayout},
	})
	if err != nil {
		return err
	}
	defer layout.Release()

	w.presentPipeline, err = w.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Present Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    *w.surfaceFormat,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	return err
}

func (w *wgpuDeviceBackend) present(t *texture) error {
	if w.surface == nil || w.presentPipeline == nil {
		return nil
	}
	wt := t.handle.(*wgpuTexture)

	surfaceTexture, err := w.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	defer surfaceTexture.Release()
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		return err
	}
	defer view.Release()

	bg, err := w.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Present Bind Group",
		Layout: w.presentLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: wt.view},
			{Binding: 1, Sampler: w.sampler},
		},
	})
	if err != nil {
		return err
	}
	defer bg.Release()

	encoder, err := w.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
			},
		},
	})
	pass.SetPipeline(w.presentPipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	w.queue.Submit(commandBuffer)
	commandBuffer.Release()
	w.surface.Present()
	return nil
}

func (w *wgpuDeviceBackend) release() {
	if w.presentPipeline != nil {
		w.presentPipeline.Release()
		w.presentLayout.Release()
	}
	if w.sampler != nil {
		w.sampler.Release()
	}
	if w.arenaBuffer != nil {
		w.arenaBuffer.Release()
	}
	if w.queue != nil {
		w.queue.Release()
	}
	if w.device != nil {
		w.device.Release()
	}
	if w.adapter != nil {
		w.adapter.Release()
	}
	if w.surface != nil {
		w.surface.Release()
	}
	if w.instance != nil {
		w.instance.Release()
	}
}
