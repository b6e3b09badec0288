package pose

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

//ScaleToCentimeters converts landmark meters into the editor's centimeters
const ScaleToCentimeters = 100

//ErrNoLandmarks is returned when a result carries no body to convert
var ErrNoLandmarks = errors.New("no landmarks detected")

//ConvertedPosition is a skeleton pose in the editor's coordinate system (centimeters, y and z pointing down/away).
//It keeps the joint order of the pose it was converted from.
type ConvertedPosition []mgl64.Vec3

//ConvertLandmarks maps every landmark to (x*100, -y*100, -z*100). Empty input gives an empty, non nil output.
func ConvertLandmarks(p SkeletonPose) ConvertedPosition {
	res := make(ConvertedPosition, len(p))
	for i, l := range p {
		res[i] = mgl64.Vec3{l.X, -l.Y, -l.Z}.Mul(ScaleToCentimeters)
	}

	return res
}

//WorldPositions converts the world landmarks of the first detected body.
//A nil or empty result is reported as ErrNoLandmarks instead of an empty position.
func WorldPositions(r *Result) (ConvertedPosition, error) {
	if !r.HasLandmarks() {
		return nil, ErrNoLandmarks
	}

	return ConvertLandmarks(r.WorldLandmarks[0]), nil
}
