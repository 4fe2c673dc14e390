package raytracing

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

func TestRootSignatureArgumentSize(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*RootSignature)
		want      uint32
	}{
		{
			name:      "empty",
			configure: func(*RootSignature) {},
			want:      0,
		},
		{
			name: "descriptors",
			configure: func(sig *RootSignature) {
				sig.AddRootParameter(RootParameterSRV, 0, 0)
				sig.AddRootParameter(RootParameterUAV, 0, 0)
			},
			want: 16,
		},
		{
			name: "constant then descriptor pads",
			configure: func(sig *RootSignature) {
				sig.AddRootConstants(0, 0, 1)
				sig.AddHeapRangesParameter(DescriptorRange{Type: DescriptorRangeSRV, Count: 1})
			},
			want: 16,
		},
		{
			name: "descriptor then constants",
			configure: func(sig *RootSignature) {
				sig.AddRootParameter(RootParameterCBV, 0, 0)
				sig.AddRootConstants(1, 0, 3)
			},
			want: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := NewRootSignature(true)
			tt.configure(sig)
			if got := sig.ArgumentSize(); got != tt.want {
				t.Errorf("ArgumentSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRootSignatureMatchesParams(t *testing.T) {
	sig := NewRootSignature(true)
	sig.AddRootConstants(0, 0, 1)
	sig.AddRootParameter(RootParameterSRV, 1, 0)
	sig.AddRootConstants(2, 0, 2)
	sig.AddHeapRangesParameter(DescriptorRange{Type: DescriptorRangeUAV, Count: 4})

	p := NewParams(sig.ArgumentSize())
	steps := []func() error{
		func() error { return p.Append32BitConstants([]uint32{1}) },
		func() error { return p.AppendSRV(2) },
		func() error { return p.Append32BitConstants([]uint32{3, 4}) },
		func() error { return p.AppendHeapRanges(5) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("append %d: expected no error; got %v", i, err)
		}
		if got, want := p.BytesWritten(), sig.argumentOffsets()[i].end; got != want {
			t.Errorf("append %d ends at %d, want %d", i, got, want)
		}
	}
	if p.BytesWritten() != p.Capacity() {
		t.Errorf("BytesWritten() = %d, want %d", p.BytesWritten(), p.Capacity())
	}
}

func TestRootParameterArgumentKind(t *testing.T) {
	tests := map[RootParameterType]device.RootArgumentKind{
		RootParameterCBV:             device.RootArgumentConstantBuffer,
		RootParameterSRV:             device.RootArgumentShaderResource,
		RootParameterUAV:             device.RootArgumentUnorderedAccess,
		RootParameterDescriptorTable: device.RootArgumentDescriptorTable,
		RootParameterConstants:       device.RootArgumentConstants,
	}
	for typ, want := range tests {
		if got := typ.argumentKind(); got != want {
			t.Errorf("%s.argumentKind() = %v, want %v", typ, got, want)
		}
	}
}
