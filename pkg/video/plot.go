package video

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
)

//minPlotVisibility hides joints the detector is not confident are on screen
const minPlotVisibility = 0.5

var (
	leftSideColor  = color.RGBA{0, 255, 0, 0}
	rightSideColor = color.RGBA{255, 0, 0, 0}
	centerColor    = color.RGBA{255, 255, 255, 0}
)

//PlotPose draws the skeleton of given normalized landmarks over frame
func PlotPose(frame *gocv.Mat, p pose.SkeletonPose, thickness int) {
	width, height := frame.Cols(), frame.Rows()

	for _, c := range pose.Connections {
		if c[0] >= len(p) || c[1] >= len(p) {
			continue
		}
		from, to := p[c[0]], p[c[1]]
		if from.Visibility < minPlotVisibility || to.Visibility < minPlotVisibility {
			continue
		}
		gocv.Line(frame, toPixel(from, width, height), toPixel(to, width, height), jointColor(c[1]), thickness)
	}

	for i, l := range p {
		if i >= pose.NumJoints || l.Visibility < minPlotVisibility {
			continue
		}
		gocv.Circle(frame, toPixel(l, width, height), thickness+1, jointColor(i), -1) //thickness -1 == filled circle
	}
}

//AnnotateImage returns img as a JPEG with the first detected body drawn over it
func AnnotateImage(img image.Image, res *pose.Result) ([]byte, error) {
	if img == nil {
		return nil, errors.New("AnnotateImage: no image")
	}

	frame, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("AnnotateImage: %w", err)
	}
	defer frame.Close()

	thickness := frame.Cols() / 320
	if thickness < 2 {
		thickness = 2
	}
	PlotPose(&frame, res.FirstPose(), thickness)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("AnnotateImage: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

func toPixel(l pose.Landmark, width, height int) image.Point {
	return image.Pt(int(l.X*float64(width)), int(l.Y*float64(height)))
}

//jointColor colors the left body side green and the right side red
func jointColor(joint int) color.RGBA {
	if joint == pose.Nose || joint >= pose.NumJoints {
		return centerColor
	}
	if strings.Contains(pose.JointNames[joint], "left") {
		return leftSideColor
	}

	return rightSideColor
}
