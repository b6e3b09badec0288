package pose

//Joint indices of the 33 landmark BlazePose topology. The order is fixed by the landmark model and must be kept
//when positions are handed to the editor, which maps index to joint.
const (
	Nose = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
	NumJoints
)

//JointNames maps a joint index to its landmark name
var JointNames = [NumJoints]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer", "right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear", "mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow", "left_wrist", "right_wrist",
	"left_pinky", "right_pinky", "left_index", "right_index", "left_thumb", "right_thumb",
	"left_hip", "right_hip", "left_knee", "right_knee", "left_ankle", "right_ankle",
	"left_heel", "right_heel", "left_foot_index", "right_foot_index",
}

//Connections are the joint pairs drawn as bones, e.g. {LeftShoulder, LeftElbow}
var Connections = [][2]int{
	{Nose, LeftEyeInner}, {LeftEyeInner, LeftEye}, {LeftEye, LeftEyeOuter}, {LeftEyeOuter, LeftEar},
	{Nose, RightEyeInner}, {RightEyeInner, RightEye}, {RightEye, RightEyeOuter}, {RightEyeOuter, RightEar},
	{MouthLeft, MouthRight},
	{LeftShoulder, RightShoulder}, {LeftShoulder, LeftElbow}, {LeftElbow, LeftWrist},
	{LeftWrist, LeftPinky}, {LeftWrist, LeftIndex}, {LeftWrist, LeftThumb}, {LeftPinky, LeftIndex},
	{RightShoulder, RightElbow}, {RightElbow, RightWrist},
	{RightWrist, RightPinky}, {RightWrist, RightIndex}, {RightWrist, RightThumb}, {RightPinky, RightIndex},
	{LeftShoulder, LeftHip}, {RightShoulder, RightHip}, {LeftHip, RightHip},
	{LeftHip, LeftKnee}, {LeftKnee, LeftAnkle}, {LeftAnkle, LeftHeel}, {LeftHeel, LeftFootIndex}, {LeftAnkle, LeftFootIndex},
	{RightHip, RightKnee}, {RightKnee, RightAnkle}, {RightAnkle, RightHeel}, {RightHeel, RightFootIndex}, {RightAnkle, RightFootIndex},
}

//Landmark is one detected joint. For image landmarks x and y are normalized to [0,1] of the frame, for world
//landmarks all three axes are meters around the hip center (y up).
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
	Presence   float64 `json:"presence"`
}

//SkeletonPose is the ordered landmark set of one body at one instant
type SkeletonPose []Landmark

//Result is what a landmark source returns for one image or video frame: one pose per detected body
type Result struct {
	Landmarks      []SkeletonPose `json:"landmarks"`
	WorldLandmarks []SkeletonPose `json:"world_landmarks"`
}

//HasLandmarks reports whether the first detected body carries world landmarks
func (r *Result) HasLandmarks() bool {
	return r != nil && len(r.WorldLandmarks) > 0 && len(r.WorldLandmarks[0]) > 0
}

//FirstPose returns the normalized image landmarks of the first body, nil if there is none
func (r *Result) FirstPose() SkeletonPose {
	if r == nil || len(r.Landmarks) == 0 {
		return nil
	}

	return r.Landmarks[0]
}

//ByName returns the pose as a joint name -> landmark map. Extra landmarks beyond NumJoints are dropped.
func (p SkeletonPose) ByName() map[string]Landmark {
	named := make(map[string]Landmark, len(p))
	for i, l := range p {
		if i >= NumJoints {
			break
		}
		named[JointNames[i]] = l
	}

	return named
}
