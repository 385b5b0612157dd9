package pyre

import (
	"log/slog"

	"github.com/gogpu/pyre/gfx"
)

// upscaleWGSL resamples the render-resolution Color texture into the
// output-resolution ColorScaled texture with a bilinear 4-tap filter.
const upscaleWGSL = `
struct Params {
    src_dims: vec2<f32>,
    dst_dims: vec2<f32>,
}

@group(0) @binding(0) var src: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(1) var dst: texture_storage_2d<rgba32float, read_write>;
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (f32(gid.x) >= params.dst_dims.x || f32(gid.y) >= params.dst_dims.y) {
        return;
    }
    let uv = (vec2<f32>(gid.xy) + vec2<f32>(0.5)) / params.dst_dims;
    let pos = uv * params.src_dims - vec2<f32>(0.5);
    let base = vec2<i32>(floor(pos));
    let f = pos - floor(pos);
    let max_px = vec2<i32>(params.src_dims) - vec2<i32>(1);
    let p00 = clamp(base, vec2<i32>(0), max_px);
    let p11 = clamp(base + vec2<i32>(1), vec2<i32>(0), max_px);
    let c00 = textureLoad(src, p00);
    let c10 = textureLoad(src, vec2<i32>(p11.x, p00.y));
    let c01 = textureLoad(src, vec2<i32>(p00.x, p11.y));
    let c11 = textureLoad(src, p11);
    let c = mix(mix(c00, c10, f.x), mix(c01, c11, f.x), f.y);
    textureStore(dst, vec2<i32>(gid.xy), c);
}
`

// upscale resamples the render-resolution source into ColorScaled and
// returns it as the texture to present. On any failure it logs and
// returns the source unchanged, so the frame still presents at render
// resolution.
func (e *Engine) upscale(src gfx.TextureID) gfx.TextureID {
	dst := e.Texture("ColorScaled")
	if !dst.Valid() || !src.Valid() {
		return src
	}
	if !e.upscaleKern.Valid() {
		prog, err := e.dev.CreateProgram("upscale", upscaleWGSL)
		if err != nil {
			Logger().Error("upscale program failed", slog.Any("error", err))
			return src
		}
		kern, err := e.dev.CreateKernel(prog, "main")
		if err != nil {
			e.dev.DestroyProgram(prog)
			Logger().Error("upscale kernel failed", slog.Any("error", err))
			return src
		}
		e.upscaleProg, e.upscaleKern = prog, kern
	}

	s := e.profiler.Begin("Upscale")
	e.dev.SetParameter(e.upscaleProg, "src", src)
	e.dev.SetParameter(e.upscaleProg, "dst", dst)
	e.dev.SetParameter(e.upscaleProg, "src_dims",
		[2]float32{float32(e.RenderWidth()), float32(e.RenderHeight())})
	e.dev.SetParameter(e.upscaleProg, "dst_dims",
		[2]float32{float32(e.width), float32(e.height)})
	e.dev.BindKernel(e.upscaleKern)
	e.dev.Dispatch((e.width+7)/8, (e.height+7)/8, 1)
	s.End()
	return dst
}

func (e *Engine) destroyUpscale() {
	if !e.upscaleKern.Valid() {
		return
	}
	e.dev.DestroyKernel(e.upscaleKern)
	e.dev.DestroyProgram(e.upscaleProg)
	e.upscaleProg = gfx.InvalidID
	e.upscaleKern = gfx.InvalidID
}
