package sequencer

import (
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facegate/internal/landmark"
)

var (
	ErrInconsistentLandmarks = errors.New("landmark count differs from earlier poses")
	ErrCancelled             = errors.New("registration cancelled")
	ErrNotComplete           = errors.New("registration not complete")
)

// Stage describes one pose of the registration: what to tell the user, how
// long to wait before capturing, and how many frames to try.
type Stage struct {
	Pose     landmark.Pose
	Prompt   string
	Delay    time.Duration
	Attempts int
}

// Plan is the ordered list of stages, one per pose.
type Plan []Stage

// DefaultPlan mirrors the original timings: a single shot for the front view,
// then longer waits and ten-frame retries for the side views.
func DefaultPlan() Plan {
	return Plan{
		{Pose: landmark.Front, Prompt: "Please look straight at the camera", Delay: 3 * time.Second, Attempts: 1},
		{Pose: landmark.Left, Prompt: "Now look to your left (hold still)", Delay: 4 * time.Second, Attempts: 10},
		{Pose: landmark.Right, Prompt: "Now look to your right (hold still)", Delay: 4 * time.Second, Attempts: 10},
	}
}

// Validate checks that the plan covers front, left and right in that order.
func (p Plan) Validate() error {
	if len(p) != len(landmark.Poses) {
		return fmt.Errorf("plan has %d stages, want %d", len(p), len(landmark.Poses))
	}
	for i, s := range p {
		if s.Pose != landmark.Poses[i] {
			return fmt.Errorf("stage %d is %q, want %q", i, s.Pose, landmark.Poses[i])
		}
		if s.Attempts < 1 {
			return fmt.Errorf("stage %q: attempts must be >= 1, got %d", s.Pose, s.Attempts)
		}
		if s.Delay < 0 {
			return fmt.Errorf("stage %q: negative delay %s", s.Pose, s.Delay)
		}
	}
	return nil
}

func (p Plan) stage(pose landmark.Pose) Stage {
	for _, s := range p {
		if s.Pose == pose {
			return s
		}
	}
	return Stage{Pose: pose, Attempts: 1}
}

// Registration is one run through the plan. Captured sets are held here and
// only turned into a Profile once every pose has succeeded.
type Registration struct {
	m          *Machine
	plan       Plan
	captured   map[landmark.Pose]landmark.LandmarkSet
	failedPose landmark.Pose
	cause      error
}

// NewRegistration validates plan and starts in AwaitingFront.
func NewRegistration(plan Plan) (*Registration, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &Registration{
		m:        NewMachine(),
		plan:     plan,
		captured: make(map[landmark.Pose]landmark.LandmarkSet, len(plan)),
	}, nil
}

func (r *Registration) State() State { return r.m.State() }

// Stage returns the stage for the current awaiting state.
func (r *Registration) Stage() (Stage, bool) {
	pose, ok := r.m.State().Pose()
	if !ok {
		return Stage{}, false
	}
	return r.plan.stage(pose), true
}

// TimerElapsed marks the current stage's capture as due and returns it.
func (r *Registration) TimerElapsed() (Stage, error) {
	if _, err := r.m.Fire(TimerElapsed); err != nil {
		return Stage{}, err
	}
	st, _ := r.Stage()
	return st, nil
}

// Succeed records set for the current pose and advances. A set whose point
// count disagrees with an earlier pose fails the stage instead: the matcher
// relies on index-wise correspondence, so a registration that cannot provide
// it is rejected here rather than at login.
func (r *Registration) Succeed(set landmark.LandmarkSet) (State, error) {
	pose, ok := r.m.State().Pose()
	if !ok {
		return r.m.State(), fmt.Errorf("%w: detection on %s", ErrInvalidTransition, r.m.State())
	}
	if set.Empty() {
		return r.Fail(ErrNoFaceCaptured)
	}
	for prev, s := range r.captured {
		if len(s) != len(set) {
			return r.Fail(fmt.Errorf("%w: %s has %d points, %s has %d", ErrInconsistentLandmarks, pose, len(set), prev, len(s)))
		}
	}

	next, err := r.m.Fire(DetectionSucceeded)
	if err != nil {
		return next, err
	}
	r.captured[pose] = landmark.New(set)
	return next, nil
}

// Fail moves to Failed, remembering which pose failed and why.
func (r *Registration) Fail(cause error) (State, error) {
	pose, _ := r.m.State().Pose()
	next, err := r.m.Fire(DetectionFailed)
	if err != nil {
		return next, err
	}
	r.failedPose = pose
	r.cause = cause
	return next, nil
}

// Cancel abandons the registration from any awaiting state.
func (r *Registration) Cancel() error {
	pose, _ := r.m.State().Pose()
	if _, err := r.m.Fire(Cancelled); err != nil {
		return err
	}
	r.failedPose = pose
	r.cause = ErrCancelled
	return nil
}

// Err is the reason for a Failed registration.
func (r *Registration) Err() error { return r.cause }

// FailedPose is the pose that was being captured when the run failed.
func (r *Registration) FailedPose() landmark.Pose { return r.failedPose }

// FailureMessage is the status text for a Failed registration.
func (r *Registration) FailureMessage() string {
	if r.m.State() != Failed {
		return ""
	}
	if errors.Is(r.cause, ErrCancelled) {
		return "Registration cancelled"
	}
	return fmt.Sprintf("Failed to detect face on the %s. Try again.", r.failedPose)
}

// Profile returns the registered profile once the run is Complete.
func (r *Registration) Profile() (*landmark.Profile, error) {
	if r.m.State() != Complete {
		return nil, fmt.Errorf("%w (state %s)", ErrNotComplete, r.m.State())
	}
	return landmark.ProfileFromMap(r.captured), nil
}
