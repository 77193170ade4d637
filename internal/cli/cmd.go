package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/logrusorgru/aurora/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/denismitr/evolve"
)

const (
	appName        = "evolve"
	defaultTimeout = 120 * time.Second
)

type rootOptions struct {
	configPath string
	verbose    bool
	timeout    time.Duration
	out        io.Writer
}

// withApp runs fn against an App built from the configuration file and
// closes it on every exit path.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) (err error) {
	app, closer, err := NewFromYaml(o.configPath, o.verbose, log.New(o.out, "", 0))
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := closer(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	return fn(ctx, app)
}

func (o *rootOptions) success(format string, args ...interface{}) {
	fmt.Fprintln(o.out, aurora.Green(appName+": "), fmt.Sprintf(format, args...))
}

// NewRootCmd builds the command tree writing its output to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	o := &rootOptions{out: out}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Evolve a relational schema through model based migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(out)
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", DefaultConfigFile, "path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "print executed statements and debug output")
	cmd.PersistentFlags().DurationVar(&o.timeout, "timeout", defaultTimeout, "timeout of one command")

	cmd.AddCommand(
		newCmdInit(o),
		newCmdUpdate(o),
		newCmdPending(o),
		newCmdHistory(o),
		newCmdAdd(o),
		newCmdScript(o),
	)

	return cmd
}

func newCmdInit(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file stub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := InitCfg(o.configPath); err != nil {
				return err
			}

			o.success("created %s", o.configPath)
			return nil
		},
	}
}

func newCmdUpdate(o *rootOptions) *cobra.Command {
	var act ActionConfig

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply pending migrations to the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				result, err := app.Update(ctx, act)
				if errors.Is(err, evolve.ErrNothingToMigrate) {
					o.success("nothing to migrate")
					return nil
				}

				for _, m := range result.Applied {
					o.success("applied %s", m.ID())
				}

				if err != nil {
					return err
				}

				o.success("all done")
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&act.Steps, "steps", 0, "apply at most this many migrations")
	cmd.Flags().BoolVar(&act.Atomic, "atomic", false, "apply every migration in one transaction")

	return cmd
}

func newCmdPending(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List migrations not yet applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				pending, err := app.Pending(ctx)
				if err != nil {
					return err
				}

				if len(pending) == 0 {
					o.success("nothing pending")
					return nil
				}

				for _, m := range pending {
					fmt.Fprintln(o.out, m.ID())
				}

				return nil
			})
		},
	}
}

func newCmdHistory(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List migrations recorded in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				applied, err := app.History(ctx)
				if err != nil {
					return err
				}

				for _, id := range applied {
					fmt.Fprintln(o.out, id.ID())
				}

				return nil
			})
		},
	}
}

func newCmdAdd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME",
		Short: "Author a migration from the changes of the model file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				m, err := app.Add(ctx, args[0])
				if err != nil {
					return err
				}

				o.success("added %s with %d operations", m.ID(), len(m.Upgrade))
				return nil
			})
		},
	}
}

func newCmdScript(o *rootOptions) *cobra.Command {
	var act ActionConfig

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Print the SQL of pending migrations without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				script, err := app.Script(ctx, act)
				if errors.Is(err, evolve.ErrNothingToMigrate) {
					o.success("nothing to migrate")
					return nil
				}

				if err != nil {
					return err
				}

				fmt.Fprintln(o.out, script)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&act.Steps, "steps", 0, "script at most this many migrations")
	cmd.Flags().BoolVar(&act.Idempotent, "idempotent", false, "guard every statement so the script can be rerun (not available for sqlite column and rename changes)")

	return cmd
}
