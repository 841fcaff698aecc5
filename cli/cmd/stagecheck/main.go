package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"stagecheck/cli/internal/config"
	"stagecheck/cli/internal/erruser"
	"stagecheck/cli/internal/git"
	"stagecheck/cli/internal/render"
	"stagecheck/cli/internal/run"
	"stagecheck/cli/internal/session"
	"stagecheck/cli/internal/trace"
	"stagecheck/cli/internal/version"
)

// errExit is an error that carries an exit code for the CLI. Use errors.As to detect it.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

// Writers for messages and progress. Tests may replace them to capture output.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		printErr(err)
		return 1
	}
	return 0
}

// printErr writes err, its cause and its recovery hint to stderr. The hint is
// left out when it is among the messages already shown.
func printErr(err error, shown ...string) {
	fmt.Fprintln(stderr, err)
	if u := errors.Unwrap(err); u != nil {
		fmt.Fprintf(stderr, "Details: %v\n", u)
	}
	if hint := erruser.HintOf(err); hint != "" && !slices.Contains(shown, hint) {
		fmt.Fprintln(stderr, hint)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stagecheck",
		Short: "Run linters and formatters against staged git files",
		Long: "stagecheck runs the commands configured in .stagecheck.toml or .stagecheck.yaml\n" +
			"against the files staged for commit. Unstaged changes are hidden while the\n" +
			"commands run, their modifications are staged, and a failed run reverts the\n" +
			"repository to its original state.",
		Version:       version.String(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStagecheck,
	}
	f := cmd.Flags()
	f.Bool("allow-empty", false, "Allow an empty commit when tasks revert all staged changes")
	f.StringP("config", "c", "", "Path to a task configuration file; disables discovery")
	f.StringP("concurrent", "p", "", "Run tasks concurrently: true, false, or the maximum number of concurrent tasks")
	f.String("cwd", "", "Run as if started in this directory")
	f.BoolP("debug", "d", false, "Print debug output to stderr")
	f.Int("max-arg-length", 0, "Maximum length of the file arguments of one command (0 = platform default)")
	f.Bool("no-stash", false, "Do not create a backup snapshot; task modifications are kept on failure")
	f.BoolP("quiet", "q", false, "Print nothing but errors")
	f.BoolP("relative", "r", false, "Pass file paths relative to the configuration directory")
	f.StringP("shell", "x", "", "Run commands through a shell (true = platform shell, or the path of a shell)")
	f.Lookup("shell").NoOptDefVal = "true"
	f.BoolP("verbose", "v", false, "Print task output even when tasks succeed")
	cmd.AddCommand(newRecoverCmd())
	return cmd
}

// overridesFromFlags returns Overrides for the flags that were set on the command line.
func overridesFromFlags(cmd *cobra.Command) (*config.Overrides, error) {
	f := cmd.Flags()
	o := &config.Overrides{}
	if f.Changed("concurrent") {
		v, _ := f.GetString("concurrent")
		n, err := config.ParseConcurrency(v)
		if err != nil {
			return nil, erruser.New("Invalid value for --concurrent; use true, false or a positive integer.", err)
		}
		o.Concurrency = &n
	}
	if f.Changed("max-arg-length") {
		v, _ := f.GetInt("max-arg-length")
		if v < 0 {
			return nil, errors.New("--max-arg-length must not be negative.")
		}
		o.MaxArgLength = &v
	}
	if f.Changed("no-stash") {
		v, _ := f.GetBool("no-stash")
		stash := !v
		o.Stash = &stash
	}
	for name, dst := range map[string]**bool{
		"allow-empty": &o.AllowEmpty,
		"relative":    &o.Relative,
		"verbose":     &o.Verbose,
		"quiet":       &o.Quiet,
	} {
		if f.Changed(name) {
			v, _ := f.GetBool(name)
			*dst = &v
		}
	}
	if f.Changed("shell") {
		v, _ := f.GetString("shell")
		o.Shell = &v
	}
	return o, nil
}

func runStagecheck(cmd *cobra.Command, _ []string) error {
	overrides, err := overridesFromFlags(cmd)
	if err != nil {
		return err
	}
	settings, err := config.Load(cmd.Context(), config.LoadOptions{Overrides: overrides})
	if err != nil {
		return err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	cwd, _ := cmd.Flags().GetString("cwd")
	configPath, _ := cmd.Flags().GetString("config")

	logger := trace.New(stderr, debug)
	log := logger.With("component", "cli")
	log.Debug("settings",
		"concurrency", settings.Concurrency, "maxArgLength", settings.MaxArgLength,
		"stash", settings.Stash, "relative", settings.Relative, "shell", settings.Shell)

	// An interrupt stops the tasks; stagecheck itself keeps running until the
	// repository is restored.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rc, runErr := run.Run(ctx, run.Options{
		Cwd:          cwd,
		ConfigPath:   configPath,
		Concurrency:  settings.Concurrency,
		MaxArgLength: settings.MaxArgLength,
		Backup:       settings.Stash,
		AllowEmpty:   settings.AllowEmpty,
		Quiet:        settings.Quiet,
		Relative:     settings.Relative,
		Shell:        settings.Shell,
		Observer:     render.New(stderr, render.ModeFor(os.Stderr, settings.Quiet, debug), settings.Verbose),
		Logger:       logger,
	})
	if ctx.Err() != nil {
		log.Warn("interrupted; tasks were stopped")
	}
	output := rc.Output()
	for _, msg := range output {
		fmt.Fprintln(stdout, msg)
	}
	if runErr == nil {
		return nil
	}
	var failed *run.Error
	if errors.As(runErr, &failed) && failed.Err != nil {
		runErr = failed.Err
	}
	printErr(runErr, output...)
	return errExit(1)
}

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover [label]",
		Short: "Restore the backup snapshot left behind by an interrupted run",
		Long: "recover resets the index and working tree to a backup snapshot and drops it.\n" +
			"Without a label it uses the snapshot of the interrupted run, or the newest\n" +
			"stagecheck snapshot.",
		Args: cobra.MaximumNArgs(1),
		RunE: runRecover,
	}
	cmd.Flags().Bool("list", false, "List stagecheck backup snapshots")
	cmd.Flags().Bool("drop", false, "Drop the snapshot without restoring it")
	cmd.Flags().String("cwd", "", "Run as if started in this directory")
	cmd.MarkFlagsMutuallyExclusive("list", "drop")
	return cmd
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return erruser.New("Could not determine current directory.", err)
		}
		cwd = wd
	}
	repo, err := git.ResolveRepo(ctx, cwd)
	if err != nil {
		return err
	}
	log := trace.New(stderr, false).With("component", "recover")

	if list, _ := cmd.Flags().GetBool("list"); list {
		snaps, err := git.Snapshots(ctx, repo.Root, git.LabelPrefix)
		if err != nil {
			return erruser.New("Could not list backup snapshots.", err)
		}
		if len(snaps) == 0 {
			fmt.Fprintln(stdout, "No stagecheck backup snapshots found.")
			return nil
		}
		for _, s := range snaps {
			fmt.Fprintf(stdout, "%s  %s\n", s.Ref, s.Label)
		}
		return nil
	}

	release, err := session.AcquireLock(repo.GitDir)
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			return erruser.New("A stagecheck run is in progress in this repository; wait for it to finish.", err)
		}
		return err
	}
	defer release()

	rec, err := session.Load(repo.GitDir)
	if err != nil {
		log.Warn("ignoring unreadable run record", "error", err)
		rec = nil
	}
	label := ""
	if len(args) > 0 {
		label = args[0]
	} else if rec != nil {
		label = rec.Label
	}

	if drop, _ := cmd.Flags().GetBool("drop"); drop {
		if label == "" {
			snaps, err := git.Snapshots(ctx, repo.Root, git.LabelPrefix)
			if err != nil {
				return erruser.New("Could not list backup snapshots.", err)
			}
			if len(snaps) == 0 {
				return erruser.New("No stagecheck backup snapshot to drop.", git.ErrSnapshotNotFound)
			}
			label = snaps[0].Label
		}
		if err := git.DropSnapshot(ctx, repo.Root, label); err != nil {
			return erruser.New("Could not drop the backup snapshot.", err)
		}
		removeRecord(log, repo.GitDir, rec, label)
		fmt.Fprintf(stdout, "Dropped %s.\n", label)
		return nil
	}

	snap, err := git.Recover(ctx, repo, label)
	if err != nil {
		if errors.Is(err, git.ErrSnapshotNotFound) {
			return erruser.New("No stagecheck backup snapshot to recover.", err)
		}
		return erruser.New("Could not recover the backup snapshot.", err)
	}
	removeRecord(log, repo.GitDir, rec, snap.Label)
	fmt.Fprintf(stdout, "Restored and dropped %s.\n", snap.Label)
	return nil
}

// removeRecord deletes the run record when it names label.
func removeRecord(log *slog.Logger, gitDir string, rec *session.Record, label string) {
	if rec == nil || rec.Label != label {
		return
	}
	if err := session.Remove(gitDir); err != nil {
		log.Warn("could not remove run record", "error", err)
	}
}
