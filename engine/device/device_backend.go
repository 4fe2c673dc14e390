package device

// deviceBackend is the API-specific half of a device. The device owns the address space,
// the CPU copy of every buffer and the command replay; backends own textures, pipelines
// and the execution of dispatches. Every method is called with the device mutex held.
type deviceBackend interface {
	init(d *device) error

	createTexture(t *texture) error
	writeTexture(t *texture, pixels []byte) error
	readTexture(t *texture) ([]float32, error)
	releaseTexture(t *texture)

	createRaytracingPipeline(p *raytracingPipeline) error
	releasePipeline(p *raytracingPipeline)
	createComputeKernel(k *computeKernel) error
	releaseKernel(k *computeKernel)

	// bufferWritten reports CPU writes to b so a GPU copy can be refreshed.
	bufferWritten(b *buffer)

	dispatchRays(st *replayState, p *raytracingPipeline, desc DispatchRaysDesc) error
	dispatch(st *replayState, k *computeKernel, args []KernelArgument, groups [3]uint32) error
	clearTexture(t *texture, color [4]float32) error
	barrier() error

	// flush completes the work of one submission.
	flush() error

	configureSurface(width, height uint32) error
	present(t *texture) error

	release()
}
