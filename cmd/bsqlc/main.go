// Package main contains the cli implementation of the tool. It uses cobra
// package for cli tool implementation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bsqlc/internal/buildlog"
	"bsqlc/internal/compiler"
	"bsqlc/internal/config"
	"bsqlc/internal/engine"
	"bsqlc/internal/output"
	"bsqlc/internal/watch"
)

// loggedError marks an error that was already written to the build log.
type loggedError struct{ error }

func (e loggedError) Unwrap() error { return e.error }

type globalOptions struct {
	configPath string
	verbose    bool
	noColor    bool
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var logged loggedError
		if !errors.As(err, &logged) {
			_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "bsqlc",
		Short:         "Incremental SQL script compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Project file (default ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print debug output")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newGoalCommand(config.GoalCompile, "Compile main SQL scripts", opts))
	rootCmd.AddCommand(newGoalCommand(config.GoalTestCompile, "Compile test SQL scripts", opts))
	rootCmd.AddCommand(newInspectCommand())
	return rootCmd
}

// newGoalCommand builds a compile goal. Goals only differ in the directories
// they default to, which come from the project configuration.
func newGoalCommand(goal, short string, opts *globalOptions) *cobra.Command {
	var (
		source  string
		out     string
		defines []string
		watchFS bool
		report  string
	)

	cmd := &cobra.Command{
		Use:   goal,
		Short: short,
		Long: short + `.

Every .sql file below the source directory is compiled into a .bsql file at
the same relative path below the output directory. Files whose compiled
output is newer than the source are skipped.

Examples:
  bsqlc ` + goal + `
  bsqlc ` + goal + ` --source db/sql --output build/sql -D sql_mode=ANSI_QUOTES
  bsqlc ` + goal + ` --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			ctx, session := buildlog.Start(cmd.Context(), cmd.OutOrStdout(), buildlog.Options{
				Level: level,
				Color: !opts.noColor && !color.NoColor,
			})
			defer session.End()
			log := session.Logger()

			fail := func(err error) error {
				log.Error(err.Error())
				return loggedError{err}
			}

			cwd, err := os.Getwd()
			if err != nil {
				return fail(fmt.Errorf("failed to get working directory: %w", err))
			}
			cfg, err := config.Load(cwd, opts.configPath)
			if err != nil {
				return fail(err)
			}
			dirs, err := cfg.Goal(goal)
			if err != nil {
				return fail(err)
			}
			if source != "" {
				if dirs.Source, err = filepath.Abs(source); err != nil {
					return fail(err)
				}
			}
			if out != "" {
				if dirs.Output, err = filepath.Abs(out); err != nil {
					return fail(err)
				}
			}

			props, err := goalProperties(cfg.Engine, defines)
			if err != nil {
				return fail(err)
			}
			if err := engine.DefaultProperties().Merge(props).Validate(); err != nil {
				return fail(err)
			}

			c := compiler.New(compiler.Options{
				InputDir:   dirs.Source,
				OutputDir:  dirs.Output,
				Properties: props,
			})
			run := func(ctx context.Context) error {
				summary, err := c.Run(ctx)
				if report != "" && summary != nil {
					if rerr := writeReport(report, summary); rerr != nil {
						log.Warn(rerr.Error())
					}
				}
				return err
			}

			err = run(ctx)
			if !watchFS {
				if err != nil {
					return fail(err)
				}
				return nil
			}

			var buildErr *compiler.BuildError
			if err != nil && !errors.As(err, &buildErr) {
				return fail(err)
			}
			if err != nil {
				log.Error(err.Error())
			}
			return watchSources(ctx, dirs.Source, run, fail)
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source directory (overrides the project file)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output directory (overrides the project file)")
	cmd.Flags().StringArrayVarP(&defines, "define", "D", nil, "Engine property as key=value; repeatable")
	cmd.Flags().BoolVarP(&watchFS, "watch", "w", false, "Recompile when sources change")
	cmd.Flags().StringVarP(&report, "report", "r", "", "Write the JSON run report to this file")
	return cmd
}

func watchSources(ctx context.Context, dir string, run func(context.Context) error, fail func(error) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.NewWatcher(dir, compiler.SourceExt, run)
	if err != nil {
		return fail(err)
	}
	w.Start(ctx)
	<-ctx.Done()
	return w.Stop()
}

// goalProperties layers -D definitions over the project's [engine] table.
func goalProperties(project map[string]string, defines []string) (map[string]string, error) {
	props := make(map[string]string, len(project)+len(defines))
	for k, v := range project {
		props[k] = v
	}
	for _, d := range defines {
		k, v, ok := strings.Cut(d, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property definition %q; expected key=value", d)
		}
		props[k] = v
	}
	return props, nil
}

func writeReport(path string, summary *compiler.Summary) error {
	f, err := output.NewFormatter(string(output.FormatJSON))
	if err != nil {
		return err
	}
	formatted, err := f.FormatSummary(summary)
	if err != nil {
		return fmt.Errorf("failed to format report: %w", err)
	}
	if err := os.WriteFile(path, []byte(formatted), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func newInspectCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect <file.bsql>",
		Short: "Print a compiled script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := output.NewFormatter(format)
			if err != nil {
				return err
			}
			script, err := loadScript(args[0])
			if err != nil {
				return err
			}
			formatted, err := formatter.FormatScript(script)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), formatted)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: human, json or sql")
	return cmd
}

func loadScript(path string) (*engine.Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compiled script: %w", err)
	}
	defer f.Close()

	script, err := engine.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}
