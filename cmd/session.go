package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/andresmejia3/facegate/internal/camera"
	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/cue"
	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/andresmejia3/facegate/internal/preview"
	"github.com/andresmejia3/facegate/internal/session"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/ui"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/andresmejia3/facegate/internal/worker"
)

// Options holds flags shared by the session, enroll and verify commands.
// Zero values mean "keep the configured value".
type Options struct {
	Device             string
	Threshold          float64
	DetectionThreshold float64
	PreviewPath        string
	ProfileName        string
	Python             string
	Script             string
	Mute               bool
	Debug              bool
}

var sessionOpts Options

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run the interactive webcam register/login loop",
	Long: `Opens the default camera and waits for commands on stdin:

  register (r)  capture front, left and right views of your face
  login    (l)  compare the current view with the registered profile
  cancel   (c)  abandon a registration in progress
  quit     (q)  exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyOptions(Cfg, sessionOpts, cmd.Flags().Changed); err != nil {
			return err
		}
		return runSession(cmd.Context(), Cfg, sessionOpts)
	},
}

func init() {
	sessionCmd.Flags().StringVar(&sessionOpts.Device, "device", "", "Camera device index or name; on Windows an index picks the n-th DirectShow camera (default from config: 0)")
	sessionCmd.Flags().StringVar(&sessionOpts.PreviewPath, "preview", "", "Write the live camera view with its status border to this JPEG file")
	sessionCmd.Flags().BoolVar(&sessionOpts.Mute, "mute", false, "Disable audio cues")
	addSharedFlags(sessionCmd, &sessionOpts)
	rootCmd.AddCommand(sessionCmd)
}

// addSharedFlags registers the flags every detector-backed command accepts.
func addSharedFlags(c *cobra.Command, opts *Options) {
	c.Flags().Float64VarP(&opts.Threshold, "threshold", "t", 0, "Mean landmark distance below which a face matches (default from config: 0.05)")
	c.Flags().Float64VarP(&opts.DetectionThreshold, "detection-threshold", "D", 0, "Face detection confidence threshold (default from config: 0.5)")
	c.Flags().StringVarP(&opts.ProfileName, "profile", "p", "", "Profile name in the store")
	c.Flags().StringVar(&opts.Python, "python", "", "Python interpreter for the landmark worker")
	c.Flags().StringVar(&opts.Script, "script", "", "Path to the landmark worker script")
	c.Flags().BoolVarP(&opts.Debug, "debug", "d", false, "Ask the landmark worker for verbose logs")
}

// applyOptions lays explicitly set flags over cfg and revalidates it.
func applyOptions(cfg *config.Config, opts Options, changed func(string) bool) error {
	if changed("device") {
		cfg.Camera.Device = opts.Device
	}
	if changed("threshold") {
		cfg.Threshold = opts.Threshold
	}
	if changed("detection-threshold") {
		cfg.Worker.DetectionThreshold = opts.DetectionThreshold
	}
	if changed("preview") {
		cfg.Preview.Path = opts.PreviewPath
	}
	if changed("python") {
		cfg.Worker.Python = opts.Python
	}
	if changed("script") {
		cfg.Worker.Script = opts.Script
	}
	if changed("mute") && opts.Mute {
		cfg.Cues = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func workerConfig(cfg *config.Config, debug bool) worker.Config {
	return worker.Config{
		Python:             cfg.Worker.Python,
		Script:             cfg.Worker.Script,
		DetectionThreshold: cfg.Worker.DetectionThreshold,
		ReadTimeout:        cfg.WorkerReadTimeout(),
		Debug:              debug,
	}
}

// startWorker launches the landmark engine and checks its script exists first,
// since a missing script otherwise surfaces as an opaque EOF.
func startWorker(ctx context.Context, cfg *config.Config, debug bool) (*worker.PythonWorker, error) {
	if _, err := os.Stat(cfg.Worker.Script); err != nil {
		utils.ShowError("Landmark worker script not found", err, nil)
		return nil, err
	}
	fmt.Fprintln(os.Stderr, "🚀 Starting landmark engine...")
	w, err := worker.NewPythonWorker(ctx, 0, workerConfig(cfg, debug))
	if err != nil {
		utils.ShowError("Failed to start landmark worker", err, nil)
		return nil, err
	}
	return w, nil
}

func runSession(ctx context.Context, cfg *config.Config, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	plan, err := cfg.Plan()
	if err != nil {
		return err
	}

	w, err := startWorker(ctx, cfg, opts.Debug)
	if err != nil {
		return err
	}
	defer w.Close()

	cam, err := camera.Open(ctx, camera.Config{
		Device:       cfg.Camera.Device,
		FPS:          cfg.Camera.FPS,
		FrameTimeout: cfg.FrameTimeout(),
	})
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return err
	}
	defer cam.Close()

	plain := !term.IsTerminal(int(os.Stdout.Fd()))
	console := ui.NewConsole(os.Stdout, os.Stderr, plain)

	player := cue.New(cfg.Cues, os.Stdout)
	defer player.Close()

	sopts := session.Options{
		Plan:        plan,
		Matcher:     landmark.NewMatcher(cfg.Threshold),
		Tick:        cfg.TickInterval(),
		Camera:      cam,
		Detector:    w,
		Surface:     console,
		Cue:         player,
		ProfileName: opts.ProfileName,
	}
	if cfg.Preview.Path != "" {
		pw := preview.New(cfg.Preview.Path, cfg.Preview.Width, cfg.Preview.Border)
		sopts.Preview = pw
		fmt.Fprintf(os.Stderr, "🖼️  Live preview: %s\n", pw.Path())
	}
	if DB != nil && opts.ProfileName != "" {
		sopts.Store = DB
		p, err := DB.LoadProfile(ctx, opts.ProfileName)
		switch {
		case err == nil:
			sopts.Profile = p
		case errors.Is(err, store.ErrProfileNotFound):
			slog.Info("profile not stored yet, register to create it", "profile", opts.ProfileName)
		default:
			utils.ShowError("Failed to load profile", err, nil)
			return err
		}
	}

	s, err := session.New(sopts)
	if err != nil {
		return err
	}

	cmds := make(chan session.Command)
	go readCommands(ctx, os.Stdin, cmds, func(line string) {
		slog.Debug("unknown command", "input", line)
		console.Help()
	})

	console.Help()
	err = s.Run(ctx, cmds)
	if dropped := cam.Dropped(); dropped > 0 {
		slog.Debug("stale camera frames dropped", "count", dropped)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "\n👋 Interrupted.")
		return nil
	}
	if errors.Is(err, session.ErrDetectorFailed) {
		utils.ShowError("Landmark worker stopped", err, w.Cmd)
		return err
	}
	if camErr := cam.Err(); camErr != nil {
		utils.ShowError("Camera stream ended during the session", camErr, nil)
	}
	return err
}

// readCommands turns input lines into commands and closes out at end of input.
func readCommands(ctx context.Context, r io.Reader, out chan<- session.Command, unknown func(string)) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c, ok := session.ParseCommand(line)
		if !ok {
			unknown(line)
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}
