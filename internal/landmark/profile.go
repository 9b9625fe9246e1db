package landmark

import "fmt"

// Profile is the registered face: one landmark set per pose. It is built in
// one piece when a registration completes and replaced in one piece on the
// next, never patched pose by pose.
type Profile struct {
	sets map[Pose]LandmarkSet
}

// NewProfile assembles a profile from the three captured views.
func NewProfile(front, left, right LandmarkSet) *Profile {
	return &Profile{sets: map[Pose]LandmarkSet{
		Front: New(front),
		Left:  New(left),
		Right: New(right),
	}}
}

// ProfileFromMap builds a profile from whatever poses are present in m.
// Missing poses leave the profile incomplete.
func ProfileFromMap(m map[Pose]LandmarkSet) *Profile {
	p := &Profile{sets: make(map[Pose]LandmarkSet, len(Poses))}
	for _, pose := range Poses {
		p.sets[pose] = New(m[pose])
	}
	return p
}

// Set returns the stored landmarks for pose (nil if absent).
func (p *Profile) Set(pose Pose) LandmarkSet {
	if p == nil {
		return nil
	}
	return p.sets[pose]
}

// Complete reports whether all three views hold landmarks. Login is only
// attempted against complete profiles.
func (p *Profile) Complete() bool {
	if p == nil {
		return false
	}
	for _, pose := range Poses {
		if p.sets[pose].Empty() {
			return false
		}
	}
	return true
}

// PointCount returns the shared point count of a complete profile.
func (p *Profile) PointCount() int {
	return len(p.Set(Front))
}

func (p *Profile) String() string {
	if !p.Complete() {
		return "profile(incomplete)"
	}
	return fmt.Sprintf("profile(%d points x %d poses)", p.PointCount(), len(Poses))
}
