package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chazu/millwright/pkg/config"
	"github.com/chazu/millwright/pkg/scene"
	"github.com/chazu/millwright/pkg/workbench"
)

// SimulateResult summarizes a headless playback run.
type SimulateResult struct {
	Workspace string        `json:"workspace"`
	Steps     int           `json:"steps"`
	Segments  int           `json:"segments"`
	Rapids    int           `json:"rapids"`
	Progress  float64       `json:"progress"`
	Finished  bool          `json:"finished"`
	Rotation  float64       `json:"rotation"`
	Final     scene.Readout `json:"final"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		speed    int
		maxSteps int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play the stored pipeline back without a frontend",
		Long: `Set playback up for the workspace's active operations and step it to
the end, then print a summary of the tool path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			log := rootOpts.logger(cfg, cmd.ErrOrStderr())
			if !cmd.Flags().Changed("speed") {
				speed = -1
			}
			res, err := simulate(cmd.Context(), cfg, workbench.Options{Log: log}, speed, maxSteps)
			if err != nil {
				return err
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).print(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: %d steps, %d segments (%d rapid), progress %.0f%%, final X%.3f Y%.3f Z%.3f\n",
					res.Workspace, res.Steps, res.Segments, res.Rapids, res.Progress*100,
					res.Final.X, res.Final.Y, res.Final.Z)
				return err
			})
		},
	}

	cmd.Flags().IntVar(&speed, "speed", 0, "index into the playback speed ladder (default: the stored speed)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 100000, "give up after this many steps")

	return cmd
}

// simulate runs the workspace program to the end. A negative speed keeps
// the stored ladder position.
func simulate(ctx context.Context, cfg config.Config, opts workbench.Options, speed, maxSteps int) (SimulateResult, error) {
	rec := scene.NewRecorder()
	opts.Config = cfg
	opts.Scene = rec
	w, err := workbench.New(ctx, opts)
	if err != nil {
		return SimulateResult{}, err
	}
	defer func() { _ = w.Close(context.WithoutCancel(ctx)) }()

	pb := w.Playback()
	if speed >= 0 {
		if err := pb.SetSpeed(ctx, speed); err != nil {
			return SimulateResult{}, err
		}
	}
	if err := w.Preview(ctx); err != nil {
		return SimulateResult{}, fmt.Errorf("simulate: %w", err)
	}

	res := SimulateResult{Workspace: cfg.Workspace}
	for res.Steps < maxSteps && !pb.Finished() {
		if err := pb.Step(ctx); err != nil {
			return res, fmt.Errorf("simulate: step %d: %w", res.Steps, err)
		}
		res.Steps++
	}

	path := rec.Path()
	res.Segments = len(path)
	for _, seg := range path {
		if seg.Rapid {
			res.Rapids++
		}
	}
	res.Progress = pb.Progress()
	res.Finished = pb.Finished()
	res.Rotation = pb.Rotation()
	res.Final = pb.Readout()
	return res, nil
}
