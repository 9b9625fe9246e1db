package landmark

// Outcome is the result of a login attempt.
type Outcome int

const (
	OutcomeNotRegistered Outcome = iota
	OutcomeNoFaceDetected
	OutcomeNotRecognized
	OutcomeLoggedIn
)

// Message is the status text shown to the user for o.
func (o Outcome) Message() string {
	switch o {
	case OutcomeLoggedIn:
		return "Logged In"
	case OutcomeNotRecognized:
		return "Face not recognized"
	case OutcomeNoFaceDetected:
		return "No face detected"
	default:
		return "Please register your face first"
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeLoggedIn:
		return "logged_in"
	case OutcomeNotRecognized:
		return "not_recognized"
	case OutcomeNoFaceDetected:
		return "no_face"
	default:
		return "not_registered"
	}
}

// Result is a login decision. No score is kept, only which view matched.
type Result struct {
	Outcome Outcome
	Pose    Pose // set only when Outcome == OutcomeLoggedIn
}

// Granted reports whether the login succeeded.
func (r Result) Granted() bool { return r.Outcome == OutcomeLoggedIn }

// Authenticate compares live against every view of profile. An incomplete
// profile short-circuits to OutcomeNotRegistered before the live landmarks
// are looked at.
func (m Matcher) Authenticate(profile *Profile, live LandmarkSet) Result {
	if !profile.Complete() {
		return Result{Outcome: OutcomeNotRegistered}
	}
	if live.Empty() {
		return Result{Outcome: OutcomeNoFaceDetected}
	}
	for _, pose := range Poses {
		if m.Match(profile.Set(pose), live) {
			return Result{Outcome: OutcomeLoggedIn, Pose: pose}
		}
	}
	return Result{Outcome: OutcomeNotRecognized}
}
