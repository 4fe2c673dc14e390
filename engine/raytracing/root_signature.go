package raytracing

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// RootParameterType is the kind of one root signature parameter.
type RootParameterType int

const (
	RootParameterCBV RootParameterType = iota
	RootParameterSRV
	RootParameterUAV
	RootParameterDescriptorTable
	RootParameterConstants
)

func (t RootParameterType) String() string {
	switch t {
	case RootParameterCBV:
		return "CBV"
	case RootParameterSRV:
		return "SRV"
	case RootParameterUAV:
		return "UAV"
	case RootParameterDescriptorTable:
		return "DescriptorTable"
	case RootParameterConstants:
		return "Constants"
	default:
		return "Unknown"
	}
}

func (t RootParameterType) argumentKind() device.RootArgumentKind {
	switch t {
	case RootParameterCBV:
		return device.RootArgumentConstantBuffer
	case RootParameterSRV:
		return device.RootArgumentShaderResource
	case RootParameterUAV:
		return device.RootArgumentUnorderedAccess
	case RootParameterDescriptorTable:
		return device.RootArgumentDescriptorTable
	default:
		return device.RootArgumentConstants
	}
}

// DescriptorRangeType is the view type of a descriptor table range.
type DescriptorRangeType int

const (
	DescriptorRangeSRV DescriptorRangeType = iota
	DescriptorRangeUAV
	DescriptorRangeCBV
	DescriptorRangeSampler
)

// DescriptorRange is a run of consecutive heap slots bound to consecutive registers.
type DescriptorRange struct {
	Type         DescriptorRangeType
	BaseRegister uint32
	Space        uint32
	Count        uint32
	// OffsetInDescriptors is the slot offset from the table start.
	OffsetInDescriptors uint32
}

// RootParameter is one declared root argument.
type RootParameter struct {
	Type     RootParameterType
	Register uint32
	Space    uint32
	// Num32BitValues is set for RootParameterConstants.
	Num32BitValues uint32
	// Ranges is set for RootParameterDescriptorTable.
	Ranges []DescriptorRange
}

// StaticSampler is a sampler baked into a global root signature.
type StaticSampler struct {
	Register uint32
	Space    uint32
	Linear   bool
	Wrap     bool
}

// RootSignature declares the root arguments of a stage. Local signatures describe the
// argument bytes of shader records; the global signature describes the arguments bound on
// the command list. Its ArgumentSize is exact, so a Params sized from it can hold one full
// set of arguments.
type RootSignature struct {
	local    bool
	params   []RootParameter
	samplers []StaticSampler
}

// NewRootSignature creates an empty root signature.
//
// Parameters:
//   - local: true for a shader record signature, false for the global signature
//
// Returns:
//   - *RootSignature: the empty signature
func NewRootSignature(local bool) *RootSignature {
	return &RootSignature{local: local}
}

// AddRootParameter declares a root descriptor (CBV, SRV or UAV).
//
// Parameters:
//   - t: RootParameterCBV, RootParameterSRV or RootParameterUAV
//   - register: the shader register
//   - space: the register space
//
// Returns:
//   - int: the parameter slot
func (r *RootSignature) AddRootParameter(t RootParameterType, register, space uint32) int {
	r.params = append(r.params, RootParameter{Type: t, Register: register, Space: space})
	return len(r.params) - 1
}

// AddRootConstants declares inline 32-bit constants.
//
// Parameters:
//   - register: the constant buffer register
//   - space: the register space
//   - count: the number of 32-bit values
//
// Returns:
//   - int: the parameter slot
func (r *RootSignature) AddRootConstants(register, space, count uint32) int {
	r.params = append(r.params, RootParameter{Type: RootParameterConstants, Register: register, Space: space, Num32BitValues: count})
	return len(r.params) - 1
}

// AddHeapRangesParameter declares a descriptor table over the given ranges.
//
// Parameters:
//   - ranges: the ranges of the table in slot order
//
// Returns:
//   - int: the parameter slot
func (r *RootSignature) AddHeapRangesParameter(ranges ...DescriptorRange) int {
	r.params = append(r.params, RootParameter{Type: RootParameterDescriptorTable, Ranges: ranges})
	return len(r.params) - 1
}

// AddStaticSampler declares a static sampler.
func (r *RootSignature) AddStaticSampler(s StaticSampler) {
	r.samplers = append(r.samplers, s)
}

func (r *RootSignature) Local() bool                     { return r.local }
func (r *RootSignature) Parameters() []RootParameter     { return r.params }
func (r *RootSignature) StaticSamplers() []StaticSampler { return r.samplers }

// ArgumentSize returns the bytes one full set of arguments occupies when appended in
// declaration order. Descriptors and tables take 8 aligned bytes; constants take 4 bytes
// each at 4 byte alignment.
//
// Returns:
//   - uint32: the argument size in bytes
func (r *RootSignature) ArgumentSize() uint32 {
	var size uint32
	for _, off := range r.argumentOffsets() {
		size = off.end
	}
	return size
}

type argumentSpan struct {
	start, end uint32
}

// argumentOffsets lays out every parameter the way Params appends it.
func (r *RootSignature) argumentOffsets() []argumentSpan {
	spans := make([]argumentSpan, len(r.params))
	var cursor uint32
	for i, p := range r.params {
		var start uint32
		if p.Type == RootParameterConstants {
			start = common.AlignUp(cursor, constantAlignment)
			cursor = start + p.Num32BitValues*4
		} else {
			start = common.AlignUp(cursor, descriptorAlignment)
			cursor = start + descriptorBytes
		}
		spans[i] = argumentSpan{start: start, end: cursor}
	}
	return spans
}
