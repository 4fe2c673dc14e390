package common

import _ "embed"

// WGSL twins of the GPU structs in types.go. Field order and sizes match the Go layouts
// byte for byte.

// GPUVertexSource defines Vertex as six scalars so the 24 byte stride survives WGSL's
// vec3 alignment.
//
//go:embed assets/vertex.wgsl
var GPUVertexSource string

// GPUMaterialParamsSource defines MaterialParams (64 bytes).
//
//go:embed assets/material_params.wgsl
var GPUMaterialParamsSource string

// GPUPerFrameConstantsSource defines PerFrameConstants and the structs it nests (192 bytes).
//
//go:embed assets/per_frame_constants.wgsl
var GPUPerFrameConstantsSource string

// GPUDenoiseConstantsSource defines DenoiseConstants (32 bytes).
//
//go:embed assets/denoise_constants.wgsl
var GPUDenoiseConstantsSource string
