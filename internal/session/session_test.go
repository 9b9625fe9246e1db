package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/andresmejia3/facegate/internal/camera"
	"github.com/andresmejia3/facegate/internal/cue"
	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/andresmejia3/facegate/internal/sequencer"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/ui"
)

// --- fakes ---

type fakeSurface struct {
	mu       sync.Mutex
	statuses []string
	borders  []ui.Border
	started  []string
	help     int
}

func (f *fakeSurface) Status(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, msg)
}

func (f *fakeSurface) SetBorder(b ui.Border) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.borders = append(f.borders, b)
}

func (f *fakeSurface) StageStarted(prompt string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, prompt)
}

func (f *fakeSurface) StageProgress(time.Duration) {}
func (f *fakeSurface) StageDone()                  {}

func (f *fakeSurface) Help() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.help++
}

func (f *fakeSurface) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

func (f *fakeSurface) lastBorder() (ui.Border, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.borders) == 0 {
		return ui.BorderNeutral, false
	}
	return f.borders[len(f.borders)-1], true
}

type fakeCamera struct {
	down atomic.Bool
}

func (c *fakeCamera) Read(ctx context.Context) (types.Frame, error) {
	if c.down.Load() {
		return types.Frame{}, camera.ErrNoFrame
	}
	return types.Frame{Seq: 1, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, CapturedAt: time.Now()}, nil
}

// scriptedDetector returns faces[i] on the i-th call and the last entry after that.
type scriptedDetector struct {
	mu    sync.Mutex
	faces []landmark.LandmarkSet
	calls int
}

func (d *scriptedDetector) Detect(context.Context, []byte) (landmark.LandmarkSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := min(d.calls, len(d.faces)-1)
	d.calls++
	return d.faces[i], nil
}

func (d *scriptedDetector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type brokenDetector struct{ err error }

func (d brokenDetector) Detect(context.Context, []byte) (landmark.LandmarkSet, error) {
	return nil, d.err
}

type recordingCue struct {
	mu     sync.Mutex
	played []cue.Kind
}

func (r *recordingCue) Play(k cue.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.played = append(r.played, k)
}

func (r *recordingCue) Close() {}

func (r *recordingCue) kinds() []cue.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cue.Kind(nil), r.played...)
}

type fakeSaver struct {
	mu    sync.Mutex
	saved map[string]*landmark.Profile
}

func (s *fakeSaver) SaveProfile(_ context.Context, name string, p *landmark.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[string]*landmark.Profile{}
	}
	s.saved[name] = p
	return nil
}

func (s *fakeSaver) get(name string) *landmark.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[name]
}

type countingPreview struct{ n atomic.Int32 }

func (p *countingPreview) Render([]byte, ui.Border) error {
	p.n.Add(1)
	return nil
}

// --- helpers ---

var (
	face    = landmark.FromTriples([][3]float64{{0.5, 0.5, 0}, {0.6, 0.4, 0.01}, {0.4, 0.4, 0.01}})
	nearby  = landmark.FromTriples([][3]float64{{0.51, 0.5, 0}, {0.61, 0.4, 0.01}, {0.41, 0.4, 0.01}})
	faraway = landmark.FromTriples([][3]float64{{0.9, 0.1, 0}, {0.1, 0.9, 0.01}, {0.2, 0.2, 0.3}})
	noFace  = landmark.LandmarkSet{}
)

func fastPlan(delay time.Duration) sequencer.Plan {
	plan := sequencer.DefaultPlan()
	for i := range plan {
		plan[i].Delay = delay
	}
	return plan
}

type harness struct {
	s       *Session
	surface *fakeSurface
	cmds    chan Command
	errc    chan error
	cancel  context.CancelFunc
}

func start(t *testing.T, opts Options) *harness {
	t.Helper()
	surface := &fakeSurface{}
	opts.Surface = surface
	if opts.Camera == nil {
		opts.Camera = &fakeCamera{}
	}
	if opts.Plan == nil {
		opts.Plan = fastPlan(time.Millisecond)
	}
	if opts.Tick == 0 {
		opts.Tick = time.Millisecond
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{s: s, surface: surface, cmds: make(chan Command), errc: make(chan error, 1), cancel: cancel}
	go func() { h.errc <- s.Run(ctx, h.cmds) }()
	t.Cleanup(func() {
		cancel()
		<-h.errc
	})
	return h
}

func (h *harness) send(t *testing.T, c Command) {
	t.Helper()
	select {
	case h.cmds <- c:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not accept %s", c)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitStatus(t *testing.T, want string) {
	t.Helper()
	eventually(t, "status "+want, func() bool { return h.surface.last() == want })
}

// --- tests ---

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"register", CmdRegister, true},
		{"R", CmdRegister, true},
		{" login ", CmdLogin, true},
		{"c", CmdCancel, true},
		{"exit", CmdQuit, true},
		{"?", CmdHelp, true},
		{"dance", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseCommand(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseCommand(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New should fail without camera, detector and surface")
	}
	bad := fastPlan(0)[:2]
	_, err := New(Options{Camera: &fakeCamera{}, Detector: &scriptedDetector{faces: []landmark.LandmarkSet{face}}, Surface: &fakeSurface{}, Plan: bad})
	if err == nil {
		t.Error("New should reject a plan without a right stage")
	}
}

func TestInitialStatus(t *testing.T) {
	h := start(t, Options{Detector: &scriptedDetector{faces: []landmark.LandmarkSet{face}}})
	h.waitStatus(t, "No face registered yet")

	h2 := start(t, Options{
		Detector: &scriptedDetector{faces: []landmark.LandmarkSet{face}},
		Profile:  landmark.NewProfile(face, face, face),
	})
	h2.waitStatus(t, "Face profile loaded")
}

func TestRegisterThenLogin(t *testing.T) {
	det := &scriptedDetector{faces: []landmark.LandmarkSet{face, face, face, nearby}}
	cues := &recordingCue{}
	saver := &fakeSaver{}
	h := start(t, Options{Detector: det, Cue: cues, Store: saver, ProfileName: "alice"})

	h.send(t, CmdRegister)
	h.waitStatus(t, "Face registration complete!")

	if !h.s.Profile().Complete() {
		t.Fatal("profile should be complete after registration")
	}
	if diff := cmp.Diff([]cue.Kind{cue.Confirm, cue.Confirm, cue.Success}, cues.kinds()); diff != "" {
		t.Errorf("cues mismatch (-want +got):\n%s", diff)
	}
	if saver.get("alice") == nil {
		t.Error("completed profile was not saved")
	}

	h.surface.mu.Lock()
	started := append([]string(nil), h.surface.started...)
	h.surface.mu.Unlock()
	wantPrompts := []string{
		"Please look straight at the camera",
		"Now look to your left (hold still)",
		"Now look to your right (hold still)",
	}
	if diff := cmp.Diff(wantPrompts, started); diff != "" {
		t.Errorf("stage prompts mismatch (-want +got):\n%s", diff)
	}

	h.send(t, CmdLogin)
	h.waitStatus(t, "Logged In")
	if b, _ := h.surface.lastBorder(); b != ui.BorderGreen {
		t.Errorf("border = %s, want green", b)
	}
}

func TestLogin(t *testing.T) {
	registered := landmark.NewProfile(face, face, face)

	tests := []struct {
		name       string
		profile    *landmark.Profile
		live       landmark.LandmarkSet
		cameraDown bool
		wantStatus string
		wantBorder ui.Border
		borderSet  bool
	}{
		{"not registered", nil, face, false, "Please register your face first", ui.BorderNeutral, false},
		{"recognized", registered, nearby, false, "Logged In", ui.BorderGreen, true},
		{"stranger", registered, faraway, false, "Face not recognized", ui.BorderRed, true},
		{"no face", registered, noFace, false, "No face detected", ui.BorderRed, true},
		{"no frame", registered, face, true, "No face detected", ui.BorderRed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := &fakeCamera{}
			cam.down.Store(tt.cameraDown)
			h := start(t, Options{
				Camera:   cam,
				Detector: &scriptedDetector{faces: []landmark.LandmarkSet{tt.live}},
				Profile:  tt.profile,
			})

			h.send(t, CmdLogin)
			h.waitStatus(t, tt.wantStatus)

			b, set := h.surface.lastBorder()
			if set != tt.borderSet || b != tt.wantBorder {
				t.Errorf("border = %s (set=%v), want %s (set=%v)", b, set, tt.wantBorder, tt.borderSet)
			}
		})
	}
}

func TestRegistrationFailsOnLeftView(t *testing.T) {
	old := landmark.NewProfile(faraway, faraway, faraway)
	det := &scriptedDetector{faces: []landmark.LandmarkSet{face, noFace}}
	cues := &recordingCue{}
	h := start(t, Options{Detector: det, Cue: cues, Profile: old})

	h.send(t, CmdRegister)
	h.waitStatus(t, "Failed to detect face on the left. Try again.")

	// One front frame, then all ten left attempts.
	if got := det.count(); got != 11 {
		t.Errorf("detector called %d times, want 11", got)
	}
	if h.s.Profile() != old {
		t.Error("a failed registration must leave the previous profile in place")
	}
	if diff := cmp.Diff([]cue.Kind{cue.Confirm}, cues.kinds()); diff != "" {
		t.Errorf("cues mismatch (-want +got):\n%s", diff)
	}

	// A new registration may start after a failure; the detector now sees
	// no face at all, so it fails on the first pose.
	h.send(t, CmdRegister)
	h.waitStatus(t, "Failed to detect face on the front. Try again.")
}

func TestRegistrationRejectsMismatchedPointCounts(t *testing.T) {
	short := landmark.FromTriples([][3]float64{{0.5, 0.5, 0}})
	det := &scriptedDetector{faces: []landmark.LandmarkSet{face, short}}
	h := start(t, Options{Detector: det})

	h.send(t, CmdRegister)
	h.waitStatus(t, "Failed to detect face on the left. Try again.")
	if h.s.Profile() != nil {
		t.Error("no profile should be committed")
	}
}

func TestRegisterWhileInProgressAndCancel(t *testing.T) {
	det := &scriptedDetector{faces: []landmark.LandmarkSet{face}}
	h := start(t, Options{Detector: det, Plan: fastPlan(time.Hour)})

	h.send(t, CmdRegister)
	h.waitStatus(t, "Please look straight at the camera")

	h.send(t, CmdRegister)
	h.waitStatus(t, "Registration already in progress")

	h.send(t, CmdCancel)
	h.waitStatus(t, "Registration cancelled")
	if det.count() != 0 {
		t.Errorf("detector called %d times before any stage was due", det.count())
	}

	h.send(t, CmdRegister)
	h.waitStatus(t, "Please look straight at the camera")
}

func TestRunEnds(t *testing.T) {
	det := &scriptedDetector{faces: []landmark.LandmarkSet{face}}

	t.Run("quit", func(t *testing.T) {
		h := start(t, Options{Detector: det})
		h.send(t, CmdQuit)
		select {
		case err := <-h.errc:
			if err != nil {
				t.Errorf("Run returned %v on quit", err)
			}
			h.errc <- err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after quit")
		}
	})

	t.Run("input closed", func(t *testing.T) {
		h := start(t, Options{Detector: det})
		close(h.cmds)
		select {
		case err := <-h.errc:
			if err != nil {
				t.Errorf("Run returned %v on closed input", err)
			}
			h.errc <- err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after input closed")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		h := start(t, Options{Detector: det, Plan: fastPlan(time.Hour)})
		h.send(t, CmdRegister)
		h.cancel()
		select {
		case err := <-h.errc:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v, want context.Canceled", err)
			}
			h.errc <- err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})
}

func TestPreviewRenderedOnTicks(t *testing.T) {
	p := &countingPreview{}
	h := start(t, Options{Detector: &scriptedDetector{faces: []landmark.LandmarkSet{face}}, Preview: p})
	eventually(t, "preview renders", func() bool { return p.n.Load() >= 3 })
	h.send(t, CmdHelp)
	eventually(t, "help", func() bool {
		h.surface.mu.Lock()
		defer h.surface.mu.Unlock()
		return h.surface.help == 1
	})
}

func TestDetectorFailureEndsSession(t *testing.T) {
	crash := errors.New("worker exited: EOF")

	tests := []struct {
		name    string
		cmd     Command
		profile *landmark.Profile
	}{
		{"during registration", CmdRegister, nil},
		{"during login", CmdLogin, landmark.NewProfile(face, face, face)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := tt.profile
			h := start(t, Options{Detector: brokenDetector{err: crash}, Profile: tt.profile})
			h.send(t, tt.cmd)

			select {
			case err := <-h.errc:
				if !errors.Is(err, ErrDetectorFailed) || !errors.Is(err, crash) {
					t.Errorf("Run returned %v, want ErrDetectorFailed wrapping the detector error", err)
				}
				h.errc <- err
			case <-time.After(3 * time.Second):
				t.Fatal("Run did not end after the detector failed")
			}

			if got := h.surface.last(); got != "Landmark detector stopped" {
				t.Errorf("last status = %q, want the detector failure", got)
			}
			if b, set := h.surface.lastBorder(); set && b == ui.BorderRed {
				t.Error("a detector failure must not be shown as a failed login")
			}
			if h.s.Profile() != old {
				t.Error("the profile must not change when the detector fails")
			}
		})
	}
}
