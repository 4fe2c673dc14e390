package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/material"
)

// extractMaterial converts one glTF metallic-roughness material into hit-group material
// constants. A base color texture is reduced to its average texel and multiplied into the
// albedo, since the hit shaders read no texture coordinates.
//
// Parameters:
//   - p: the parser holding the document
//   - materialIndex: the index of the glTF material
//   - maxDimension: the size textures are reduced to before averaging, 0 for none
//
// Returns:
//   - common.MaterialParams: the material constants
//   - error: an error if the base color texture cannot be decoded
func extractMaterial(p *gltfParser, materialIndex int, maxDimension int) (common.MaterialParams, error) {
	doc := p.document
	if materialIndex < 0 || materialIndex >= len(doc.Materials) {
		return common.MaterialParams{}, fmt.Errorf("material index %d out of range", materialIndex)
	}
	src := &doc.Materials[materialIndex]

	albedo := [4]float32{1, 1, 1, 1}
	metallic, roughness := float32(1), float32(1)
	if pbr := src.PbrMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			albedo = *pbr.BaseColorFactor
		}
		if pbr.MetallicFactor != nil {
			metallic = *pbr.MetallicFactor
		}
		if pbr.RoughnessFactor != nil {
			roughness = *pbr.RoughnessFactor
		}
		if pbr.BaseColorTexture != nil {
			avg, err := averageTextureColor(p, pbr.BaseColorTexture.Index, maxDimension)
			if err != nil {
				return common.MaterialParams{}, fmt.Errorf("material %d base color: %w", materialIndex, err)
			}
			for c := range albedo {
				albedo[c] *= avg[c]
			}
		}
	}

	options := []material.MaterialBuilderOption{
		material.WithName(src.Name),
		material.WithBaseColor(albedo),
		material.WithMetallic(metallic),
		material.WithRoughness(roughness),
	}
	if src.EmissiveFactor != nil {
		options = append(options, material.WithEmissive(*src.EmissiveFactor))
	}
	if ext := src.Extensions; ext != nil {
		if ext.Transmission != nil {
			options = append(options, material.WithTransmission(ext.Transmission.TransmissionFactor))
		}
		if ext.IOR != nil {
			options = append(options, material.WithIoR(ext.IOR.IOR))
		}
	}
	return material.NewMaterial(options...).Params(), nil
}

// averageTextureColor decodes the image behind a texture and returns its mean color in
// [0, 1].
func averageTextureColor(p *gltfParser, textureIndex int, maxDimension int) ([4]float32, error) {
	doc := p.document
	if textureIndex < 0 || textureIndex >= len(doc.Textures) {
		return [4]float32{}, fmt.Errorf("texture index %d out of range", textureIndex)
	}
	tex := doc.Textures[textureIndex]
	if tex.Source == nil {
		return [4]float32{1, 1, 1, 1}, nil
	}
	data, err := p.imageBytes(*tex.Source)
	if err != nil {
		return [4]float32{}, err
	}
	staging, err := DecodeTexture(fmt.Sprintf("texture_%d", textureIndex), data, maxDimension)
	if err != nil {
		return [4]float32{}, err
	}

	var sum [4]float64
	for i := 0; i+3 < len(staging.Pixels); i += 4 {
		for c := range 4 {
			sum[c] += float64(staging.Pixels[i+c])
		}
	}
	texels := float64(len(staging.Pixels) / 4)
	var out [4]float32
	for c := range out {
		out[c] = float32(sum[c] / texels / 255)
	}
	return out, nil
}
