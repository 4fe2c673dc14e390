package accel

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

func vertexBytes(stride int, positions ...common.Vec3) []byte {
	out := make([]byte, stride*len(positions))
	for i, p := range positions {
		putVec3(out[i*stride:], p)
	}
	return out
}

func indexBytes(indices ...uint32) []byte {
	out := make([]byte, 4*len(indices))
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(out[i*4:], idx)
	}
	return out
}

func TestReadTrianglesIndexed(t *testing.T) {
	verts := vertexBytes(common.VertexStride,
		common.Vec3{0, 0.25, 0},
		common.Vec3{0.25, -0.25, 0},
		common.Vec3{-0.25, -0.25, 0},
	)
	tris, err := ReadTriangles(TriangleGeometry{
		Vertices:     verts,
		VertexStride: common.VertexStride,
		VertexCount:  3,
		Indices:      indexBytes(0, 2, 1),
		IndexCount:   3,
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if len(tris) != 1 {
		t.Fatalf("expected 1 triangle; got %d", len(tris))
	}
	if tris[0].V1 != (common.Vec3{-0.25, -0.25, 0}) {
		t.Fatalf("expected V1 to come from index 2; got %v", tris[0].V1)
	}
}

func TestReadTrianglesNonIndexed(t *testing.T) {
	verts := vertexBytes(12,
		common.Vec3{0, 0, 0}, common.Vec3{1, 0, 0}, common.Vec3{0, 1, 0},
		common.Vec3{0, 0, 1}, common.Vec3{1, 0, 1}, common.Vec3{0, 1, 1},
	)
	tris, err := ReadTriangles(TriangleGeometry{Vertices: verts, VertexStride: 12, VertexCount: 6})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if len(tris) != 2 || tris[1].PrimitiveIndex != 1 {
		t.Fatalf("expected 2 triangles with sequential indices; got %+v", tris)
	}
}

func TestReadTrianglesRejectsOutOfRangeIndex(t *testing.T) {
	verts := vertexBytes(12, common.Vec3{}, common.Vec3{}, common.Vec3{})
	_, err := ReadTriangles(TriangleGeometry{
		Vertices:     verts,
		VertexStride: 12,
		VertexCount:  3,
		Indices:      indexBytes(0, 1, 7),
		IndexCount:   3,
	})
	if !errors.Is(err, ErrMalformedStructure) {
		t.Fatalf("expected ErrMalformedStructure; got %v", err)
	}
}

func TestBottomLevelRoundTrip(t *testing.T) {
	tris := gridTriangles(4)
	data := BuildBottomLevel(tris, GeometryFlagOpaque)

	info := BottomLevelPrebuildInfo(uint32(len(tris)))
	if uint64(len(data)) > info.ResultDataMaxSizeInBytes {
		t.Fatalf("expected at most %d bytes; got %d", info.ResultDataMaxSizeInBytes, len(data))
	}

	// Decoding must tolerate the unused tail of a result buffer.
	padded := make([]byte, info.ResultDataMaxSizeInBytes)
	copy(padded, data)
	blas, err := DecodeBottomLevel(padded)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if blas.Flags != GeometryFlagOpaque {
		t.Fatalf("expected opaque flag; got %v", blas.Flags)
	}
	if len(blas.Triangles) != len(tris) {
		t.Fatalf("expected %d triangles; got %d", len(tris), len(blas.Triangles))
	}
	seen := make(map[uint32]bool)
	for _, tri := range blas.Triangles {
		if tri != tris[tri.PrimitiveIndex] {
			t.Fatalf("expected triangle %d to survive the round trip", tri.PrimitiveIndex)
		}
		seen[tri.PrimitiveIndex] = true
	}
	if len(seen) != len(tris) {
		t.Fatalf("expected %d distinct primitives; got %d", len(tris), len(seen))
	}
	bounds := blas.Bounds()
	if bounds.Min != (common.Vec3{0, 0, 0}) || bounds.Max != (common.Vec3{4, 4, 0}) {
		t.Fatalf("expected bounds [0,0,0]-[4,4,0]; got %v", bounds)
	}
}

func TestDecodeBottomLevelErrors(t *testing.T) {
	valid := BuildBottomLevel(gridTriangles(1), GeometryFlagNone)

	badMagic := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(badMagic, 0xDEADBEEF)

	badChild := append([]byte(nil), BuildBottomLevel(gridTriangles(3), GeometryFlagNone)...)
	binary.LittleEndian.PutUint32(badChild[HeaderSize+12:], uint32(math.MaxInt32))

	tests := []struct {
		name string
		data []byte
	}{
		{"short", valid[:8]},
		{"magic", badMagic},
		{"truncated", valid[:len(valid)-1]},
		{"child", badChild},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBottomLevel(tt.data); !errors.Is(err, ErrMalformedStructure) {
				t.Fatalf("expected ErrMalformedStructure; got %v", err)
			}
		})
	}
}

func TestBottomLevelPrebuildInfo(t *testing.T) {
	tests := []struct {
		prims  uint32
		result uint64
	}{
		{0, HeaderSize + NodeSize},
		{1, HeaderSize + NodeSize + TriangleSize},
		{4, HeaderSize + 7*NodeSize + 4*TriangleSize},
	}
	for _, tt := range tests {
		if got := BottomLevelPrebuildInfo(tt.prims).ResultDataMaxSizeInBytes; got != tt.result {
			t.Errorf("BottomLevelPrebuildInfo(%d).ResultDataMaxSizeInBytes = %d, want %d", tt.prims, got, tt.result)
		}
	}
}
