package pyre

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Camera describes the view into the scene. Techniques read the camera
// through Engine.Camera and the derived matrices through
// Engine.CameraMatrices.
type Camera struct {
	// Eye is the camera position in world space.
	Eye mgl32.Vec3

	// Center is the look-at target in world space.
	Center mgl32.Vec3

	// Up is the camera's up direction.
	Up mgl32.Vec3

	// FovY is the vertical field of view in radians.
	FovY float32

	// Aspect is the width/height aspect ratio.
	Aspect float32

	// Near and Far are the clip plane distances.
	Near float32
	Far  float32
}

// DefaultCamera returns a camera looking down -Z from the origin.
func DefaultCamera(aspect float32) Camera {
	return Camera{
		Eye:    mgl32.Vec3{0, 0, 0},
		Center: mgl32.Vec3{0, 0, -1},
		Up:     mgl32.Vec3{0, 1, 0},
		FovY:   mgl32.DegToRad(60),
		Aspect: aspect,
		Near:   0.1,
		Far:    1e4,
	}
}

// CameraMatrices holds the matrices derived from a camera for one
// frame, including the previous frame's transform for reprojection.
type CameraMatrices struct {
	View           mgl32.Mat4
	Projection     mgl32.Mat4
	ViewProjection mgl32.Mat4

	InvView           mgl32.Mat4
	InvProjection     mgl32.Mat4
	InvViewProjection mgl32.Mat4

	// PrevViewProjection is last frame's ViewProjection, for motion
	// vectors and temporal reprojection.
	PrevViewProjection mgl32.Mat4

	// Reprojection maps current-frame NDC to previous-frame NDC.
	Reprojection mgl32.Mat4
}

// computeMatrices derives the frame's matrices from the camera, with an
// optional sub-pixel projection jitter in NDC units.
func computeMatrices(cam Camera, prevViewProj mgl32.Mat4, jitterX, jitterY float32) CameraMatrices {
	view := mgl32.LookAtV(cam.Eye, cam.Center, cam.Up)
	proj := mgl32.Perspective(cam.FovY, cam.Aspect, cam.Near, cam.Far)
	if jitterX != 0 || jitterY != 0 {
		jitter := mgl32.Translate3D(jitterX, jitterY, 0)
		proj = jitter.Mul4(proj)
	}
	viewProj := proj.Mul4(view)

	m := CameraMatrices{
		View:               view,
		Projection:         proj,
		ViewProjection:     viewProj,
		InvView:            view.Inv(),
		InvProjection:      proj.Inv(),
		InvViewProjection:  viewProj.Inv(),
		PrevViewProjection: prevViewProj,
	}
	m.Reprojection = prevViewProj.Mul4(m.InvViewProjection)
	return m
}

// halton returns the i-th sample of the Halton sequence with the given
// base. Used to generate the temporal jitter pattern.
func halton(i uint32, base uint32) float32 {
	f := float32(1)
	var r float32
	for i > 0 {
		f /= float32(base)
		r += f * float32(i%base)
		i /= base
	}
	return r
}

// jitterOffsets returns the sub-pixel jitter for a jitter phase index,
// in the [-0.5, 0.5) pixel range.
func jitterOffsets(phase uint32) (x, y float32) {
	return halton(phase+1, 2) - 0.5, halton(phase+1, 3) - 0.5
}
