package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/andresmejia3/facegate/internal/sequencer"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/utils"
)

var verifyOpts Options

var verifyCmd = &cobra.Command{
	Use:   "verify <image_path>",
	Short: "Check a still image against a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := requireDB(); err != nil {
			return err
		}
		if verifyOpts.ProfileName == "" {
			return fmt.Errorf("--profile is required")
		}
		if err := applyOptions(Cfg, verifyOpts, cmd.Flags().Changed); err != nil {
			return err
		}
		return runVerify(cmd.Context(), args[0], verifyOpts)
	},
}

func init() {
	addSharedFlags(verifyCmd, &verifyOpts)
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(ctx context.Context, imagePath string, opts Options) error {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	profile, err := DB.LoadProfile(ctx, opts.ProfileName)
	if err != nil && !errors.Is(err, store.ErrProfileNotFound) {
		utils.ShowError("Failed to load profile", err, nil)
		return err
	}

	w, err := startWorker(ctx, Cfg, opts.Debug)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	res, live, err := verifyFrame(ctx, w, landmark.NewMatcher(Cfg.Threshold), profile, imgData)
	if err != nil {
		utils.ShowError("Landmark extraction failed", err, w.Cmd)
		return err
	}

	if res.Granted() {
		fmt.Printf("✅ %s (matched the %s view)\n", res.Outcome.Message(), res.Pose)
	} else {
		fmt.Printf("❌ %s\n", res.Outcome.Message())
	}

	if res.Outcome == landmark.OutcomeLoggedIn || res.Outcome == landmark.OutcomeNotRecognized {
		printDistances(profile, live, Cfg.Threshold)
	}
	return nil
}

// verifyFrame runs the login check for one image.
func verifyFrame(ctx context.Context, det sequencer.Detector, m landmark.Matcher, p *landmark.Profile, jpeg []byte) (landmark.Result, landmark.LandmarkSet, error) {
	if !p.Complete() {
		return m.Authenticate(p, nil), nil, nil
	}
	live, err := det.Detect(ctx, jpeg)
	if err != nil {
		return landmark.Result{}, nil, err
	}
	return m.Authenticate(p, live), live, nil
}

func printDistances(p *landmark.Profile, live landmark.LandmarkSet, threshold float64) {
	wOut := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(wOut, "\nVIEW\tMEAN DISTANCE\tMATCH")
	fmt.Fprintln(wOut, "----\t-------------\t-----")
	for _, pose := range landmark.Poses {
		d, err := landmark.MeanDistance(p.Set(pose), live)
		if err != nil {
			fmt.Fprintf(wOut, "%s\t-\t%v\n", pose, err)
			continue
		}
		fmt.Fprintf(wOut, "%s\t%.4f\t%v\n", pose, d, d < threshold)
	}
	wOut.Flush()
}
