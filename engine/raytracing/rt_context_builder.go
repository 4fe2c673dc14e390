package raytracing

type ContextBuilderOption func(*Context)

// WithDescriptorHeapSize sets the number of descriptor heap slots. The heap never grows.
//
// Parameters:
//   - slots: the heap size
//
// Returns:
//   - ContextBuilderOption: a function that sets the heap size
func WithDescriptorHeapSize(slots int) ContextBuilderOption {
	return func(c *Context) {
		c.heapSize = slots
	}
}

// WithContextLabel names the context's command lists.
func WithContextLabel(label string) ContextBuilderOption {
	return func(c *Context) {
		c.label = label
	}
}
