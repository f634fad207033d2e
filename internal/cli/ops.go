package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/scene"
	"github.com/chazu/millwright/pkg/workbench"
)

// NewOpsCommand creates the ops command group.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Edit the stored operation pipeline",
		Long: `Operations are addressed by ID. Any unique prefix of an ID is accepted.`,
	}

	cmd.AddCommand(newOpsListCommand(rootOpts))
	cmd.AddCommand(newOpsAddCommand(rootOpts))
	cmd.AddCommand(newOpsRemoveCommand(rootOpts))
	cmd.AddCommand(newOpsMoveCommand(rootOpts))
	cmd.AddCommand(newOpsDisableCommand(rootOpts))

	return cmd
}

// withWorkbench opens the configured workspace for one command.
func withWorkbench(cmd *cobra.Command, rootOpts *RootOptions, fn func(ctx context.Context, w *workbench.Workbench) error) error {
	cfg, err := rootOpts.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w, err := workbench.New(ctx, workbench.Options{
		Config: cfg,
		Scene:  scene.NewRecorder(),
		Log:    rootOpts.logger(cfg, cmd.ErrOrStderr()),
	})
	if err != nil {
		return err
	}
	err = fn(ctx, w)
	if cerr := w.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// resolveID accepts a full operation ID or a unique prefix of one.
func resolveID(w *workbench.Workbench, s string) (uuid.UUID, error) {
	if id, err := uuid.Parse(s); err == nil {
		return id, nil
	}
	var match []uuid.UUID
	for _, r := range w.Rows() {
		if strings.HasPrefix(r.ID.String(), s) {
			match = append(match, r.ID)
		}
	}
	switch len(match) {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: %s", workbench.ErrUnknownOperation, s)
	case 1:
		return match[0], nil
	default:
		return uuid.Nil, fmt.Errorf("operation prefix %q is ambiguous (%d matches)", s, len(match))
	}
}

func printRows(p printer, rows []ops.Row) error {
	return p.print(rows, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tID\tTYPE\tLABEL\tPICKED\tSTATE")
		for i, r := range rows {
			state := "active"
			switch {
			case r.Type == ops.TypeClock:
				state = "-"
			case r.Disabled:
				state = "disabled"
			case r.Inert:
				state = "inert"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", i, r.ID.String()[:8], r.Type, r.Label, r.Picked, state)
		}
		return tw.Flush()
	})
}

func printAdvisories(p printer, advs []ops.Advisory) {
	for _, a := range advs {
		if a.Field != "" {
			p.line("warning: %s: %s", a.Field, a.Message)
			continue
		}
		p.line("warning: %s", a.Message)
	}
}

func newOpsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkbench(cmd, rootOpts, func(_ context.Context, w *workbench.Workbench) error {
				return printRows(newPrinter(rootOpts, cmd.OutOrStdout()), w.Rows())
			})
		},
	}
}

func newOpsAddCommand(rootOpts *RootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "add <type>",
		Short: "Append an operation",
		Long:  "Append an operation of the given type. Types: " + typeList() + ".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := ops.ParseType(args[0])
			if err != nil {
				return err
			}
			return withWorkbench(cmd, rootOpts, func(ctx context.Context, w *workbench.Workbench) error {
				p := newPrinter(rootOpts, cmd.OutOrStdout())
				op, advs, err := w.AddOperation(ctx, t)
				if err != nil {
					return err
				}
				printAdvisories(p, advs)
				if op == nil {
					return fmt.Errorf("%s was not added", t)
				}
				if note != "" {
					if _, err := w.Bind(ctx, op.ID, "note", note); err != nil {
						return err
					}
				}
				p.line("added %s %s", t, op.ID)
				return printRows(p, w.Rows())
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "note for the new operation; a leading #word becomes its label")

	return cmd
}

func newOpsRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkbench(cmd, rootOpts, func(ctx context.Context, w *workbench.Workbench) error {
				id, err := resolveID(w, args[0])
				if err != nil {
					return err
				}
				p := newPrinter(rootOpts, cmd.OutOrStdout())
				advs, err := w.RemoveOperation(ctx, id)
				if err != nil {
					return err
				}
				printAdvisories(p, advs)
				return printRows(p, w.Rows())
			})
		},
	}
}

func newOpsMoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <index>",
		Short: "Move an operation to a new position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad index %q: %w", args[1], err)
			}
			return withWorkbench(cmd, rootOpts, func(ctx context.Context, w *workbench.Workbench) error {
				id, err := resolveID(w, args[0])
				if err != nil {
					return err
				}
				if err := w.MoveOperation(ctx, id, index); err != nil {
					return err
				}
				return printRows(newPrinter(rootOpts, cmd.OutOrStdout()), w.Rows())
			})
		},
	}
}

func newOpsDisableCommand(rootOpts *RootOptions) *cobra.Command {
	var enable, all bool

	cmd := &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable or re-enable an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkbench(cmd, rootOpts, func(ctx context.Context, w *workbench.Workbench) error {
				id, err := resolveID(w, args[0])
				if err != nil {
					return err
				}
				if err := w.SetDisabled(ctx, id, !enable, all); err != nil {
					return err
				}
				return printRows(newPrinter(rootOpts, cmd.OutOrStdout()), w.Rows())
			})
		},
	}

	cmd.Flags().BoolVar(&enable, "enable", false, "re-enable instead")
	cmd.Flags().BoolVar(&all, "all", false, "apply to every operation")

	return cmd
}

func typeList() string {
	types := ops.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}
