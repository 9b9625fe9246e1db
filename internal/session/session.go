// Package session runs the interactive register/login loop. A single
// goroutine owns all state: camera ticks, the stage timer and console
// commands are handled one at a time, each to completion.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/facegate/internal/cue"
	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/andresmejia3/facegate/internal/sequencer"
	"github.com/andresmejia3/facegate/internal/ui"
)

const (
	statusIdle        = "No face registered yet"
	statusLoaded      = "Face profile loaded"
	statusBusy        = "Registration already in progress"
	statusCapturing   = "Capturing face, please hold still..."
	statusRegistered  = "Face registration complete!"
	statusDetectorErr = "Landmark detector stopped"
	defaultTickPeriod = time.Second / 30
)

// ErrDetectorFailed ends a session whose detector returned an error rather
// than a (possibly empty) landmark set.
var ErrDetectorFailed = errors.New("landmark detector failed")

// Command is a user request typed at the console.
type Command int

const (
	CmdRegister Command = iota
	CmdLogin
	CmdCancel
	CmdQuit
	CmdHelp
)

func (c Command) String() string {
	switch c {
	case CmdRegister:
		return "register"
	case CmdLogin:
		return "login"
	case CmdCancel:
		return "cancel"
	case CmdQuit:
		return "quit"
	case CmdHelp:
		return "help"
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// ParseCommand accepts a full command name or its first letter.
func ParseCommand(s string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "register":
		return CmdRegister, true
	case "l", "login":
		return CmdLogin, true
	case "c", "cancel":
		return CmdCancel, true
	case "q", "quit", "exit":
		return CmdQuit, true
	case "h", "?", "help":
		return CmdHelp, true
	}
	return 0, false
}

// Surface is where status text, border color and countdowns are shown.
// *ui.Console implements it.
type Surface interface {
	Status(msg string)
	SetBorder(b ui.Border)
	StageStarted(prompt string, delay time.Duration)
	StageProgress(elapsed time.Duration)
	StageDone()
	Help()
}

// Previewer renders a camera frame with the current border.
type Previewer interface {
	Render(frame []byte, b ui.Border) error
}

// ProfileSaver persists a completed registration.
type ProfileSaver interface {
	SaveProfile(ctx context.Context, name string, p *landmark.Profile) error
}

// Options wires a Session. Camera, Detector and Surface are required.
type Options struct {
	Plan     sequencer.Plan
	Matcher  landmark.Matcher
	Tick     time.Duration
	Camera   sequencer.FrameSource
	Detector sequencer.Detector
	Surface  Surface
	Cue      cue.Player

	// Optional.
	Preview     Previewer
	Store       ProfileSaver
	ProfileName string
	Profile     *landmark.Profile
}

// Session is one run of the interactive loop.
type Session struct {
	opts Options
	id   string
	log  *slog.Logger

	mu      sync.Mutex
	profile *landmark.Profile

	reg        *sequencer.Registration
	border     ui.Border
	timer      *time.Timer
	timerC     <-chan time.Time
	stageStart time.Time
	previewErr bool
	fatal      error
}

// New validates opts and fills in defaults.
func New(opts Options) (*Session, error) {
	if opts.Camera == nil || opts.Detector == nil || opts.Surface == nil {
		return nil, errors.New("session: camera, detector and surface are required")
	}
	if opts.Plan == nil {
		opts.Plan = sequencer.DefaultPlan()
	}
	if err := opts.Plan.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if opts.Matcher.Threshold <= 0 {
		opts.Matcher = landmark.NewMatcher(opts.Matcher.Threshold)
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTickPeriod
	}
	if opts.Cue == nil {
		opts.Cue = cue.Nop{}
	}

	id := uuid.NewString()
	s := &Session{
		opts: opts,
		id:   id,
		log:  slog.With("session", id),
	}
	if opts.Profile.Complete() {
		s.profile = opts.Profile
	}
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Profile is the registered profile, or nil before the first registration.
func (s *Session) Profile() *landmark.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Session) setProfile(p *landmark.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

// Run drives the loop until quit, until cmds is closed, until ctx is
// cancelled or until the detector fails. The last two are reported as errors;
// a detector failure wraps ErrDetectorFailed.
func (s *Session) Run(ctx context.Context, cmds <-chan Command) error {
	s.log.Info("session started", "tick", s.opts.Tick, "threshold", s.opts.Matcher.Threshold)
	defer s.disarm()

	if s.Profile() != nil {
		s.opts.Surface.Status(statusLoaded)
	} else {
		s.opts.Surface.Status(statusIdle)
	}

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.abandon()
			return ctx.Err()

		case <-ticker.C:
			s.tick(ctx)

		case <-s.timerC:
			s.timerC = nil
			s.stageDue(ctx)
			if s.fatal != nil {
				s.abandon()
				return s.fatal
			}

		case c, ok := <-cmds:
			if !ok {
				s.log.Info("input closed, ending session")
				s.abandon()
				return nil
			}
			if c == CmdQuit {
				s.log.Info("quit requested")
				s.abandon()
				return nil
			}
			s.handle(ctx, c)
			if s.fatal != nil {
				s.abandon()
				return s.fatal
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, c Command) {
	s.log.Debug("command", "cmd", c)
	switch c {
	case CmdRegister:
		s.register()
	case CmdLogin:
		s.login(ctx)
	case CmdCancel:
		s.cancel()
	case CmdHelp:
		s.opts.Surface.Help()
	}
}

// tick pulls the newest frame for the preview and advances the countdown.
func (s *Session) tick(ctx context.Context) {
	if s.reg != nil && s.timerC != nil {
		s.opts.Surface.StageProgress(time.Since(s.stageStart))
	}
	if s.opts.Preview == nil {
		return
	}

	tctx, cancel := context.WithTimeout(ctx, s.opts.Tick)
	defer cancel()
	frame, err := s.opts.Camera.Read(tctx)
	if err != nil {
		return
	}
	if err := s.opts.Preview.Render(frame.Data, s.border); err != nil {
		// Log once; a broken preview path would otherwise flood the log.
		if !s.previewErr {
			s.log.Warn("preview render failed", "error", err)
			s.previewErr = true
		}
		return
	}
	s.previewErr = false
}

func (s *Session) register() {
	if s.reg != nil {
		s.opts.Surface.Status(statusBusy)
		return
	}
	reg, err := sequencer.NewRegistration(s.opts.Plan)
	if err != nil {
		s.log.Error("cannot start registration", "error", err)
		return
	}
	s.log.Info("registration started")
	s.reg = reg
	s.setBorder(ui.BorderNeutral)
	s.startStage()
}

// startStage prompts for the current pose and arms the stage timer.
func (s *Session) startStage() {
	st, ok := s.reg.Stage()
	if !ok {
		return
	}
	s.opts.Surface.Status(st.Prompt)
	s.opts.Surface.StageStarted(st.Prompt, st.Delay)
	s.arm(st.Delay)
}

// stageDue runs the capture for the current pose once its delay is over.
func (s *Session) stageDue(ctx context.Context) {
	if s.reg == nil {
		return
	}
	st, err := s.reg.TimerElapsed()
	if err != nil {
		s.log.Error("stage timer out of sequence", "state", s.reg.State(), "error", err)
		return
	}
	s.opts.Surface.StageDone()
	if st.Attempts > 1 {
		s.opts.Surface.Status(statusCapturing)
	}

	set, err := sequencer.Capture(ctx, s.opts.Camera, s.opts.Detector, st.Attempts)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil && !errors.Is(err, sequencer.ErrNoFaceCaptured) {
		s.detectorFailed(err)
		return
	}

	var state sequencer.State
	if err != nil {
		s.log.Info("stage failed", "pose", st.Pose, "error", err)
		state, err = s.reg.Fail(err)
	} else {
		s.log.Debug("stage captured", "pose", st.Pose, "points", len(set))
		state, err = s.reg.Succeed(set)
	}
	if err != nil {
		s.log.Error("sequencer rejected detection result", "state", state, "error", err)
		return
	}

	switch state {
	case sequencer.Complete:
		s.complete(ctx)
	case sequencer.Failed:
		s.log.Info("registration failed", "pose", s.reg.FailedPose(), "error", s.reg.Err())
		s.opts.Surface.Status(s.reg.FailureMessage())
		s.reg = nil
	default:
		s.opts.Cue.Play(cue.Confirm)
		s.startStage()
	}
}

func (s *Session) complete(ctx context.Context) {
	p, err := s.reg.Profile()
	s.reg = nil
	if err != nil {
		s.log.Error("completed registration has no profile", "error", err)
		return
	}
	s.setProfile(p)
	s.log.Info("registration complete", "points", p.PointCount())
	s.opts.Surface.Status(statusRegistered)
	s.opts.Cue.Play(cue.Success)

	if s.opts.Store != nil && s.opts.ProfileName != "" {
		if err := s.opts.Store.SaveProfile(ctx, s.opts.ProfileName, p); err != nil {
			s.log.Warn("profile kept in memory only", "profile", s.opts.ProfileName, "error", err)
			return
		}
		s.log.Info("profile saved", "profile", s.opts.ProfileName)
	}
}

func (s *Session) cancel() {
	if s.reg == nil {
		s.log.Debug("cancel ignored, no registration running")
		return
	}
	if err := s.reg.Cancel(); err != nil {
		s.log.Error("cancel rejected", "state", s.reg.State(), "error", err)
		return
	}
	s.disarm()
	s.opts.Surface.StageDone()
	s.opts.Surface.Status(s.reg.FailureMessage())
	s.reg = nil
}

// abandon drops an in-flight registration on shutdown. The previous profile
// stays as it was.
func (s *Session) abandon() {
	if s.reg == nil {
		return
	}
	_ = s.reg.Cancel()
	s.opts.Surface.StageDone()
	s.reg = nil
}

func (s *Session) login(ctx context.Context) {
	p := s.Profile()
	if !p.Complete() {
		s.opts.Surface.Status(landmark.OutcomeNotRegistered.Message())
		return
	}

	var live landmark.LandmarkSet
	frame, err := s.opts.Camera.Read(ctx)
	if err != nil {
		s.log.Debug("login: no frame", "error", err)
	} else if live, err = s.opts.Detector.Detect(ctx, frame.Data); err != nil {
		if ctx.Err() == nil {
			s.detectorFailed(err)
		}
		return
	}

	res := s.opts.Matcher.Authenticate(p, live)
	s.log.Info("login attempt", "outcome", res.Outcome, "pose", res.Pose)
	s.opts.Surface.Status(res.Outcome.Message())
	switch res.Outcome {
	case landmark.OutcomeLoggedIn:
		s.setBorder(ui.BorderGreen)
	case landmark.OutcomeNotRecognized, landmark.OutcomeNoFaceDetected:
		s.setBorder(ui.BorderRed)
	}
}

// detectorFailed stops the loop. A broken detector cannot tell "no face"
// from "no answer", so carrying on would only report misleading outcomes.
func (s *Session) detectorFailed(err error) {
	s.log.Error("landmark detector failed", "error", err)
	s.opts.Surface.Status(statusDetectorErr)
	s.fatal = fmt.Errorf("%w: %w", ErrDetectorFailed, err)
}

func (s *Session) setBorder(b ui.Border) {
	s.border = b
	s.opts.Surface.SetBorder(b)
}

func (s *Session) arm(d time.Duration) {
	s.disarm()
	s.stageStart = time.Now()
	s.timer = time.NewTimer(d)
	s.timerC = s.timer.C
}

func (s *Session) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerC = nil
}
