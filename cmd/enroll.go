package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/andresmejia3/facegate/internal/sequencer"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"
)

var (
	enrollOpts   Options
	enrollImages = map[landmark.Pose]*string{
		landmark.Front: new(string),
		landmark.Left:  new(string),
		landmark.Right: new(string),
	}
)

var enrollCmd = &cobra.Command{
	Use:   "enroll --front a.jpg --left b.jpg --right c.jpg --profile NAME",
	Short: "Register a stored profile from three still images",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := requireDB(); err != nil {
			return err
		}
		if enrollOpts.ProfileName == "" {
			return fmt.Errorf("--profile is required")
		}
		if err := applyOptions(Cfg, enrollOpts, cmd.Flags().Changed); err != nil {
			return err
		}
		return runEnroll(cmd.Context(), enrollOpts)
	},
}

func init() {
	for _, pose := range landmark.Poses {
		enrollCmd.Flags().StringVar(enrollImages[pose], string(pose), "", fmt.Sprintf("JPEG of the %s view", pose))
		enrollCmd.MarkFlagRequired(string(pose))
	}
	addSharedFlags(enrollCmd, &enrollOpts)
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, opts Options) error {
	frames := make(map[landmark.Pose][]byte, len(landmark.Poses))
	for _, pose := range landmark.Poses {
		path := *enrollImages[pose]
		data, err := os.ReadFile(path)
		if err != nil {
			utils.ShowError(fmt.Sprintf("Failed to read %s image", pose), err, nil)
			return err
		}
		frames[pose] = data
	}

	plan, err := Cfg.Plan()
	if err != nil {
		return err
	}

	w, err := startWorker(ctx, Cfg, opts.Debug)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Extracting landmarks...")
	profile, err := enroll(ctx, w, plan, frames)
	if err != nil {
		utils.ShowError("Enrollment failed", err, w.Cmd)
		return err
	}

	if err := DB.SaveProfile(ctx, opts.ProfileName, profile); err != nil {
		utils.ShowError("Failed to save profile", err, nil)
		return err
	}
	fmt.Printf("✅ Profile '%s' registered (%d landmarks per view)\n", opts.ProfileName, profile.PointCount())
	return nil
}

// stillFrame serves the same image on every read.
type stillFrame []byte

func (s stillFrame) Read(context.Context) (types.Frame, error) {
	return types.Frame{Seq: 1, Data: s, CapturedAt: time.Now()}, nil
}

// enroll drives a registration over still images. Delays are skipped and each
// pose gets one attempt, since retrying the same image cannot help.
func enroll(ctx context.Context, det sequencer.Detector, plan sequencer.Plan, frames map[landmark.Pose][]byte) (*landmark.Profile, error) {
	reg, err := sequencer.NewRegistration(plan)
	if err != nil {
		return nil, err
	}

	for !reg.State().Terminal() {
		st, err := reg.TimerElapsed()
		if err != nil {
			return nil, err
		}
		set, err := sequencer.Capture(ctx, stillFrame(frames[st.Pose]), det, 1)
		if err != nil {
			if !errors.Is(err, sequencer.ErrNoFaceCaptured) {
				return nil, err
			}
			_, ferr := reg.Fail(err)
			if ferr != nil {
				return nil, ferr
			}
			continue
		}
		if _, err := reg.Succeed(set); err != nil {
			return nil, err
		}
	}

	if reg.State() == sequencer.Failed {
		return nil, fmt.Errorf("%s: %w", reg.FailureMessage(), reg.Err())
	}
	return reg.Profile()
}
