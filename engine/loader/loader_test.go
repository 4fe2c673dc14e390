package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func encodePNG(t *testing.T, w, h int, fill func(x, y int) color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	return buf.Bytes()
}

// triangleBuffer holds one triangle in the XZ plane and its uint16 indices, padded to 4 bytes.
func triangleBuffer() []byte {
	var buf bytes.Buffer
	for _, v := range []float32{0, 0, 0, 1, 0, 0, 0, 0, -1} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	for _, i := range []uint16{0, 1, 2, 0} {
		_ = binary.Write(&buf, binary.LittleEndian, i)
	}
	return buf.Bytes()
}

// testDocument builds a two-node scene sharing one mesh. bufferURI is omitted for GLB.
func testDocument(t *testing.T, bufferURI string) map[string]any {
	t.Helper()
	checker := encodePNG(t, 2, 2, func(x, y int) color.NRGBA {
		if (x+y)%2 == 0 {
			return color.NRGBA{255, 255, 255, 255}
		}
		return color.NRGBA{0, 0, 0, 255}
	})
	buffer := map[string]any{"byteLength": 44}
	if bufferURI != "" {
		buffer["uri"] = bufferURI
	}
	return map[string]any{
		"asset": map[string]any{"version": "2.0"},
		"scene": 0,
		"scenes": []any{
			map[string]any{"name": "demo", "nodes": []int{0}},
		},
		"nodes": []any{
			map[string]any{"name": "root", "mesh": 0, "translation": []float32{0, 0, -5}, "children": []int{1}},
			map[string]any{"name": "child", "mesh": 0, "translation": []float32{1, 0, 0}, "scale": []float32{2, 2, 2}},
		},
		"meshes": []any{
			map[string]any{"name": "tri", "primitives": []any{
				map[string]any{"attributes": map[string]int{"POSITION": 0}, "indices": 1, "material": 0},
			}},
		},
		"accessors": []any{
			map[string]any{"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3"},
			map[string]any{"bufferView": 1, "componentType": 5123, "count": 3, "type": "SCALAR"},
		},
		"bufferViews": []any{
			map[string]any{"buffer": 0, "byteOffset": 0, "byteLength": 36},
			map[string]any{"buffer": 0, "byteOffset": 36, "byteLength": 6},
		},
		"buffers": []any{buffer},
		"materials": []any{
			map[string]any{"name": "metal", "pbrMetallicRoughness": map[string]any{
				"baseColorFactor":  []float32{1, 0.5, 1, 1},
				"baseColorTexture": map[string]any{"index": 0},
				"metallicFactor":   1,
				"roughnessFactor":  0.2,
			}},
			map[string]any{"name": "glass", "extensions": map[string]any{
				"KHR_materials_transmission": map[string]any{"transmissionFactor": 1},
				"KHR_materials_ior":          map[string]any{"ior": 1.33},
			}},
		},
		"textures": []any{map[string]any{"source": 0}},
		"images": []any{
			map[string]any{"uri": "data:image/png;base64," + base64.StdEncoding.EncodeToString(checker)},
		},
	}
}

func marshalDocument(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	return data
}

func encodeGLB(jsonChunk, binChunk []byte) []byte {
	pad := func(b []byte, fill byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, fill)
		}
		return b
	}
	jsonChunk = pad(append([]byte(nil), jsonChunk...), ' ')
	binChunk = pad(append([]byte(nil), binChunk...), 0)

	var buf bytes.Buffer
	total := uint32(12 + 8 + len(jsonChunk) + 8 + len(binChunk))
	_ = binary.Write(&buf, binary.LittleEndian, gltfGLBHeader{Magic: gltfGLBMagic, Version: gltfGLBVersion, Length: total})
	_ = binary.Write(&buf, binary.LittleEndian, gltfGLBChunkHeader{ChunkLength: uint32(len(jsonChunk)), ChunkType: gltfGLBChunkJSON})
	buf.Write(jsonChunk)
	_ = binary.Write(&buf, binary.LittleEndian, gltfGLBChunkHeader{ChunkLength: uint32(len(binChunk)), ChunkType: gltfGLBChunkBIN})
	buf.Write(binChunk)
	return buf.Bytes()
}

func checkImportedScene(t *testing.T, s *ImportedScene) {
	t.Helper()
	if s.Name != "demo" {
		t.Errorf("Name = %q, want %q", s.Name, "demo")
	}
	if len(s.Meshes) != 1 || len(s.Instances) != 2 {
		t.Fatalf("expected 1 mesh and 2 instances; got %d and %d", len(s.Meshes), len(s.Instances))
	}
	mesh := s.Meshes[0]
	if mesh.Mesh.TriangleCount() != 1 || mesh.Material != 0 {
		t.Errorf("TriangleCount(), Material = %d, %d, want 1, 0", mesh.Mesh.TriangleCount(), mesh.Material)
	}
	for i, v := range mesh.Mesh.Vertices {
		if !near(v.Normal[0], 0) || !near(v.Normal[1], 1) || !near(v.Normal[2], 0) {
			t.Errorf("vertex %d normal = %v, want +Y", i, v.Normal)
		}
	}

	child := s.Instances[1]
	if child.Name != "child" || child.Mesh != 0 {
		t.Errorf("child instance = %q mesh %d, want %q mesh 0", child.Name, child.Mesh, "child")
	}
	got := child.Transform.TransformPoint(common.Vec3{1, 0, 0})
	if want := (common.Vec3{3, 0, -5}); !near(got[0], want[0]) || !near(got[1], want[1]) || !near(got[2], want[2]) {
		t.Errorf("child TransformPoint = %v, want %v", got, want)
	}

	if len(s.Materials) != 2 {
		t.Fatalf("expected 2 materials; got %d", len(s.Materials))
	}
	metal := s.Materials[0]
	wantAlbedo := [4]float32{0.5, 0.25, 0.5, 1}
	for c := range wantAlbedo {
		if !near(metal.Albedo[c], wantAlbedo[c]) {
			t.Errorf("metal albedo = %v, want %v", metal.Albedo, wantAlbedo)
			break
		}
	}
	if metal.Type != common.MaterialTypeGlossy || !near(metal.Roughness, 0.2) || !near(metal.Reflectivity, 1) {
		t.Errorf("metal = %+v, want a glossy surface with roughness 0.2", metal)
	}
	glass := s.Materials[1]
	if glass.Type != common.MaterialTypeSpecular || !near(glass.IoR, 1.33) {
		t.Errorf("glass type, IoR = %v, %v, want %v, 1.33", glass.Type, glass.IoR, common.MaterialTypeSpecular)
	}

	perInstance := s.InstanceMaterials()
	if len(perInstance) != 2 || perInstance[0] != metal || perInstance[1] != metal {
		t.Errorf("InstanceMaterials() = %+v, want the metal material twice", perInstance)
	}
}

func TestLoadSceneReader(t *testing.T) {
	bin := triangleBuffer()
	doc := testDocument(t, "data:application/octet-stream;base64,"+base64.StdEncoding.EncodeToString(bin))
	l := NewLoader()

	s, err := l.LoadSceneReader("inline", bytes.NewReader(marshalDocument(t, doc)), false)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	checkImportedScene(t, s)

	if l.Get("inline") != s {
		t.Errorf("expected Get to return the cached scene")
	}
	again, err := l.LoadSceneReader("inline", nil, false)
	if err != nil || again != s {
		t.Errorf("expected the cached scene without reading; got %v, %v", again, err)
	}
	if len(l.Scenes()) != 1 {
		t.Errorf("len(Scenes()) = %d, want 1", len(l.Scenes()))
	}
}

func TestLoadSceneGLB(t *testing.T) {
	doc := testDocument(t, "")
	glb := encodeGLB(marshalDocument(t, doc), triangleBuffer())

	s, err := NewLoader().LoadSceneReader("binary", bytes.NewReader(glb), true)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	checkImportedScene(t, s)

	glb[0] = 'x'
	if _, err := NewLoader().LoadSceneReader("broken", bytes.NewReader(glb), true); !errors.Is(err, errInvalidGLBMagic) {
		t.Errorf("expected errInvalidGLBMagic; got %v", err)
	}
}

func TestLoadSceneFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "demo.bin"), triangleBuffer(), 0o644); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	path := filepath.Join(dir, "demo.gltf")
	if err := os.WriteFile(path, marshalDocument(t, testDocument(t, "demo.bin")), 0o644); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	l := NewLoader()
	s, err := l.LoadScene(path)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	checkImportedScene(t, s)
	if l.Get(path) != s {
		t.Errorf("expected the scene cached by path")
	}

	if _, err := l.LoadScene(filepath.Join(dir, "demo.obj")); err == nil {
		t.Errorf("expected an error for an unsupported extension; got nil")
	}
	if _, err := l.LoadScene(filepath.Join(dir, "missing.gltf")); err == nil {
		t.Errorf("expected an error for a missing file; got nil")
	}
}

type countingBackend struct {
	loads int
	scene *ImportedScene
}

func (b *countingBackend) Load(path string, maxTextureDimension int) (*ImportedScene, error) {
	b.loads++
	return b.scene, nil
}

func (b *countingBackend) LoadReader(name string, r io.Reader, binary bool, maxTextureDimension int) (*ImportedScene, error) {
	return nil, errors.New("not supported")
}

func TestLoadSceneSelectsBackendByExtension(t *testing.T) {
	l := NewLoader().(*loader)
	if _, ok := l.backends[".glb"].(gltfSceneBackend); !ok {
		t.Fatalf("expected .glb served by the glTF backend; got %T", l.backends[".glb"])
	}

	b := &countingBackend{scene: &ImportedScene{Name: "custom"}}
	l.backends[".scn"] = b
	for range 2 {
		s, err := l.LoadScene("level.SCN")
		if err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
		if s != b.scene {
			t.Errorf("LoadScene() = %v, want the backend's scene", s)
		}
	}
	if b.loads != 1 {
		t.Errorf("backend loads = %d, want 1 after a cache hit", b.loads)
	}
}

func TestImportRejectsBadDocuments(t *testing.T) {
	bin := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(triangleBuffer())

	old := testDocument(t, bin)
	old["asset"] = map[string]any{"version": "1.0"}
	if _, err := NewLoader().LoadSceneReader("old", bytes.NewReader(marshalDocument(t, old)), false); !errors.Is(err, errInvalidGLTFVersion) {
		t.Errorf("expected errInvalidGLTFVersion; got %v", err)
	}

	lines := testDocument(t, bin)
	lines["meshes"] = []any{
		map[string]any{"primitives": []any{
			map[string]any{"attributes": map[string]int{"POSITION": 0}, "mode": 1},
		}},
	}
	if _, err := NewLoader().LoadSceneReader("lines", bytes.NewReader(marshalDocument(t, lines)), false); err == nil {
		t.Errorf("expected an error for a line primitive; got nil")
	}

	cyclic := testDocument(t, bin)
	cyclic["nodes"] = []any{
		map[string]any{"children": []int{1}},
		map[string]any{"children": []int{0}},
	}
	if _, err := NewLoader().LoadSceneReader("cyclic", bytes.NewReader(marshalDocument(t, cyclic)), false); !errors.Is(err, errNodeCycle) {
		t.Errorf("expected errNodeCycle; got %v", err)
	}
}

func TestQuaternionMatrix(t *testing.T) {
	s := float32(math.Sqrt2 / 2)
	// 90 degrees about +Y
	m := quaternionMatrix([4]float32{0, s, 0, s})
	got := m.TransformVector(common.Vec3{1, 0, 0})
	if !near(got[0], 0) || !near(got[1], 0) || !near(got[2], -1) {
		t.Errorf("TransformVector = %v, want [0 0 -1]", got)
	}
	if m := quaternionMatrix([4]float32{0, 0, 0, 1}); m != common.Identity4() {
		t.Errorf("quaternionMatrix(identity) = %v, want the identity", m)
	}
}

func TestDecodeTextureScales(t *testing.T) {
	data := encodePNG(t, 8, 4, func(x, y int) color.NRGBA { return color.NRGBA{200, 100, 50, 255} })

	full, err := DecodeTexture("full", data, 0)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if full.Width != 8 || full.Height != 4 || len(full.Pixels) != 8*4*4 {
		t.Errorf("full = %dx%d with %d bytes, want 8x4 with 128", full.Width, full.Height, len(full.Pixels))
	}
	if full.Pixels[0] != 200 || full.Pixels[1] != 100 || full.Pixels[2] != 50 || full.Pixels[3] != 255 {
		t.Errorf("first texel = %v, want [200 100 50 255]", full.Pixels[:4])
	}

	small, err := DecodeTexture("small", data, 4)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if small.Width != 4 || small.Height != 2 || small.Label != "small" {
		t.Errorf("small = %q %dx%d, want %q 4x2", small.Label, small.Width, small.Height, "small")
	}

	if _, err := DecodeTexture("junk", []byte("not an image"), 0); err == nil {
		t.Errorf("expected a decode error; got nil")
	}
}

func TestLoadTexturesKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 1; i <= 3; i++ {
		path := filepath.Join(dir, string(rune('a'+i-1))+".png")
		data := encodePNG(t, i, 1, func(x, y int) color.NRGBA { return color.NRGBA{255, 0, 0, 255} })
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
		paths = append(paths, path)
	}

	l := NewLoader(WithDecodeWorkers(2))
	got, err := l.LoadTextures(context.Background(), paths...)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	for i, tex := range got {
		if tex.Width != uint32(i+1) || tex.Label != filepath.Base(paths[i]) {
			t.Errorf("texture %d = %q width %d, want %q width %d", i, tex.Label, tex.Width, filepath.Base(paths[i]), i+1)
		}
	}

	cached, err := l.LoadTexture(paths[2])
	if err != nil || cached.Width != 3 {
		t.Errorf("LoadTexture() = width %d, %v, want the cached width 3", cached.Width, err)
	}
	if _, err := l.LoadTextures(context.Background(), filepath.Join(dir, "missing.png")); err == nil {
		t.Errorf("expected an error for a missing file; got nil")
	}
}

func TestLoadCubeTexture(t *testing.T) {
	dir := t.TempDir()
	var faces [6]string
	for i := range faces {
		faces[i] = filepath.Join(dir, "face"+string(rune('0'+i))+".png")
		data := encodePNG(t, 2, 2, func(x, y int) color.NRGBA { return color.NRGBA{uint8(i * 40), 0, 0, 255} })
		if err := os.WriteFile(faces[i], data, 0o644); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
	}

	l := NewLoader()
	cube, err := l.LoadCubeTexture(context.Background(), faces)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if !cube.Cube || cube.Width != 2 || cube.Height != 2 || len(cube.Pixels) != 6*2*2*4 {
		t.Errorf("cube = %dx%d cube=%v with %d bytes, want 2x2 cube with 96", cube.Width, cube.Height, cube.Cube, len(cube.Pixels))
	}
	if cube.Pixels[5*16] != 200 {
		t.Errorf("last face red = %d, want 200", cube.Pixels[5*16])
	}

	wide := encodePNG(t, 4, 2, func(x, y int) color.NRGBA { return color.NRGBA{A: 255} })
	if err := os.WriteFile(faces[3], wide, 0o644); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if _, err := NewLoader().LoadCubeTexture(context.Background(), faces); !errors.Is(err, ErrCubeFaceShape) {
		t.Errorf("expected ErrCubeFaceShape; got %v", err)
	}
}

func TestInstantiateSharesModels(t *testing.T) {
	bin := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(triangleBuffer())
	imported, err := NewLoader().LoadSceneReader("inline", bytes.NewReader(marshalDocument(t, testDocument(t, bin))), false)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	dev, err := device.NewDevice(device.WithArenaSize(8 << 20))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer dev.Release()

	s, materials, err := imported.Instantiate(dev)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer s.Release()

	if s.InstanceCount() != 2 || len(s.Models()) != 1 {
		t.Errorf("InstanceCount(), len(Models()) = %d, %d, want 2, 1", s.InstanceCount(), len(s.Models()))
	}
	if len(materials) != 2 || materials[0] != imported.Materials[0] {
		t.Errorf("materials = %+v, want the metal material per instance", materials)
	}
	if s.Name() != "demo" {
		t.Errorf("Name() = %q, want %q", s.Name(), "demo")
	}
}
