// Package cmd implements the sbh command-line surface: starting and
// controlling the daemon, running a one-shot scan, nudging the policy
// FSM's persisted posture, verifying ballast integrity, and explaining
// a past decision.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/joyshmitz/sbh/collector"
	"github.com/joyshmitz/sbh/config"
	"github.com/joyshmitz/sbh/engine"
	"github.com/joyshmitz/sbh/metrics"
	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/supervisor"
	"github.com/joyshmitz/sbh/telemetry"
	"github.com/joyshmitz/sbh/ui"
)

// Version is set at build time via ldflags.
var Version = "0.10.6"

// ExitCodeError signals a non-zero exit code without calling os.Exit
// directly, so Run's caller decides when the process actually exits.
// Exit codes follow the CLI contract: 0 success, 2 invalid config,
// 3 supply-chain verification failure, 4 offline missing asset,
// 5 policy refused, 6 I/O, 7 unsupported platform.
type ExitCodeError struct{ Code int }

func (e ExitCodeError) Error() string { return fmt.Sprintf("exit %d", e.Code) }

const (
	exitOK                 = 0
	exitInvalidConfig      = 2
	exitVerificationFailed = 3
	exitMissingAsset       = 4
	exitPolicyRefused      = 5
	exitIO                 = 6
	exitUnsupportedPlatform = 7
)

var dataDirFlag string

// exitCodeFor maps a stable error code (spec §7) onto the CLI's numeric
// exit-code contract (spec §6). "missing asset" has no corresponding
// error code, since it names a CLI-level precondition rather than a
// runtime failure; it is returned directly as ExitCodeError elsewhere.
func exitCodeFor(code model.ErrorKindCode) int {
	switch code {
	case model.ErrInvalidConfig:
		return exitInvalidConfig
	case model.ErrUnsupportedPlatform:
		return exitUnsupportedPlatform
	case model.ErrPolicyRefused:
		return exitPolicyRefused
	case model.ErrIntegrityFailed:
		return exitVerificationFailed
	default:
		return exitIO
	}
}

// fail prints a stable error's message and remediation hint to stderr
// and converts it into the matching ExitCodeError.
func fail(e *model.Error) error {
	fmt.Fprintf(os.Stderr, "sbh: %s\n", e.Error())
	if e.Remediation != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", e.Remediation)
	}
	return ExitCodeError{Code: exitCodeFor(e.Code)}
}

// Run builds the cobra command tree and executes it.
func Run() error {
	if runtime.GOOS != "linux" {
		return fail(model.NewError(model.ErrUnsupportedPlatform,
			"sbh only supports Linux mount and filesystem semantics",
			"run this on a Linux host or container"))
	}

	root := &cobra.Command{
		Use:     "sbh",
		Short:   "storage ballast helper — prevents storage exhaustion from build/agent workloads",
		Version: Version,
	}
	root.PersistentFlags().StringVar(&dataDirFlag, "datadir", "", "data directory for state, telemetry, and the daemon pid file (default: $XDG_DATA_HOME/sbh)")

	root.AddCommand(newDaemonCmd(), newScanCmd(), newPolicyCmd(), newVerifyCmd(), newExplainCmd(), newDashboardCmd())
	return root.Execute()
}

func dataDir() (string, error) {
	if dataDirFlag != "" {
		return dataDirFlag, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sbh"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine data directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "sbh"), nil
}

func pidPath(dir string) string   { return filepath.Join(dir, "daemon.pid") }
func statePath(dir string) string { return filepath.Join(dir, "state.json") }
func jsonlPath(dir string) string { return filepath.Join(dir, "decisions.jsonl") }
func sqlitePath(dir string) string { return filepath.Join(dir, "decisions.db") }

// ── daemon ───────────────────────────────────────────────────────────

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run, stop, or query the background daemon",
	}
	cmd.AddCommand(newDaemonRunCmd(), newDaemonStopCmd(), newDaemonStatusCmd())
	return cmd
}

func newDaemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	dir, err := dataDir()
	if err != nil {
		return fail(model.WrapIO("", err))
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fail(model.WrapIO(dir, err))
	}

	if alive, pid := daemonAlive(dir); alive {
		return fail(model.NewError(model.ErrPolicyRefused,
			fmt.Sprintf("daemon already running (pid %d)", pid),
			"stop the running daemon with \"sbh daemon stop\" first"))
	}
	if err := os.WriteFile(pidPath(dir), []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fail(model.WrapIO(pidPath(dir), err))
	}
	defer os.Remove(pidPath(dir))

	prefs := config.Load()
	if len(prefs.Roots) == 0 {
		return fail(model.NewError(model.ErrInvalidConfig,
			"no scan roots configured",
			"add at least one path to \"roots\" in the preferences file"))
	}

	jsonlSink := telemetry.NewJSONLSink(jsonlPath(dir))
	sqliteSink, err := telemetry.OpenSQLiteSink(sqlitePath(dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbh: open telemetry store: %v\n", err)
		return ExitCodeError{Code: exitIO}
	}
	defer sqliteSink.Close()

	sup := supervisor.New(prefs, statePath(dir), []telemetry.TelemetrySink{sqliteSink, jsonlSink})

	watcher, err := config.NewWatcher(func(next config.Preferences) {
		applyLiveConfig(sup.Engine(), next, time.Now())
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbh: config watcher disabled: %v\n", err)
	} else {
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if prefs.Prometheus.Enabled {
		reg := metrics.New()
		sup.SetMetrics(reg)
		go func() {
			if err := reg.Serve(ctx, prefs.Prometheus.Addr); err != nil {
				log.Printf("sbh: metrics server: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sup.Run(ctx)
	return nil
}

// applyLiveConfig folds a hot-reloaded Preferences' desired policy
// posture into an already-running engine: KillSwitch forces
// FallbackSafe immediately; InitialMode is treated as the operator's
// desired steady-state mode and approached via repeated Promote/Demote
// calls, since the policy FSM only exposes relative transitions.
func applyLiveConfig(eng *engine.Engine, next config.Preferences, now time.Time) {
	pol := eng.Policy()
	if next.KillSwitch {
		if pol.Mode() != model.ModeFallbackSafe {
			pol.EnterFallback(model.FallbackReason{Kind: model.ReasonKillSwitch}, now)
		}
		return
	}
	if next.InitialMode == model.ModeFallbackSafe {
		if pol.Mode() != model.ModeFallbackSafe {
			pol.EnterFallback(model.FallbackReason{Kind: model.ReasonPolicyError, Details: "operator requested fallback"}, now)
		}
		return
	}

	rank := map[model.ActiveMode]int{model.ModeObserve: 0, model.ModeCanary: 1, model.ModeEnforce: 2}
	target, ok := rank[next.InitialMode]
	if !ok {
		return
	}
	for i := 0; i < 3 && rank[pol.Mode()] < target; i++ {
		before := pol.Mode()
		pol.Promote(now)
		if pol.Mode() == before {
			break
		}
	}
	for i := 0; i < 3 && rank[pol.Mode()] > target; i++ {
		before := pol.Mode()
		pol.Demote(now)
		if pol.Mode() == before {
			break
		}
	}
}

func daemonAlive(dir string) (bool, int) {
	data, err := os.ReadFile(pidPath(dir))
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false, 0
	}
	return true, pid
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDir()
			if err != nil {
				return ExitCodeError{Code: exitIO}
			}
			alive, pid := daemonAlive(dir)
			if !alive {
				fmt.Fprintln(os.Stderr, "sbh: daemon is not running")
				return ExitCodeError{Code: exitIO}
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return ExitCodeError{Code: exitIO}
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				fmt.Fprintf(os.Stderr, "sbh: signal daemon: %v\n", err)
				return ExitCodeError{Code: exitIO}
			}
			fmt.Printf("sbh: sent SIGTERM to daemon (pid %d)\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the daemon's last-written state snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDir()
			if err != nil {
				return ExitCodeError{Code: exitIO}
			}
			snap, err := telemetry.ReadStateSnapshot(statePath(dir))
			if err != nil {
				fmt.Fprintf(os.Stderr, "sbh: read state snapshot: %v\n", err)
				return ExitCodeError{Code: exitIO}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
}

// ── scan ─────────────────────────────────────────────────────────────

func newScanCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan-and-decide cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate candidates but do not persist decision records")
	return cmd
}

func runScan(dryRun bool) error {
	prefs := config.Load()
	if len(prefs.Roots) == 0 {
		fmt.Fprintln(os.Stderr, "sbh: no scan roots configured")
		return ExitCodeError{Code: exitInvalidConfig}
	}

	mounts := collector.MountReader{}
	readings, err := mounts.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbh: read mounts: %v\n", err)
		return ExitCodeError{Code: exitIO}
	}

	walkerCfg := collector.DefaultWalkerConfig()
	walkerCfg.ExcludePaths = append(walkerCfg.ExcludePaths, prefs.ExcludePaths...)
	walker := collector.NewWalker(walkerCfg)

	budget := &model.ScanBudget{EntriesRemaining: 1 << 20, BytesRemaining: 1 << 40}
	_, candidates := walker.Walk(prefs.Roots, budget)

	thresholds := make(map[string]uint64, len(readings))
	fraction := prefs.LowWaterFraction
	if fraction <= 0 {
		fraction = 0.02
	}
	for _, r := range readings {
		thresholds[r.Mount] = uint64(float64(r.TotalBytes) * fraction)
	}

	eng := engine.NewEngine(prefs.EngineConfig(), time.Now())
	result := eng.Tick(readings, thresholds, candidates, time.Now())

	if !dryRun {
		dir, err := dataDir()
		if err != nil {
			return ExitCodeError{Code: exitIO}
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return ExitCodeError{Code: exitIO}
		}
		sink := telemetry.NewJSONLSink(jsonlPath(dir))
		for _, rec := range result.Decision.Records {
			if err := sink.Write(rec); err != nil {
				fmt.Fprintf(os.Stderr, "sbh: write decision record: %v\n", err)
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Decision)
}

// ── policy ───────────────────────────────────────────────────────────

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Adjust the daemon's persisted policy posture",
		Long: `Each subcommand edits the on-disk preferences' desired mode or kill
switch and saves it. A running daemon picks the change up immediately
through its config watcher; a stopped daemon applies it on next start.`,
	}
	cmd.AddCommand(
		newPolicyModeCmd("promote", promoteMode),
		newPolicyModeCmd("demote", demoteMode),
		newPolicyFallbackCmd(),
		newPolicyKillSwitchCmd(),
	)
	return cmd
}

func promoteMode(m model.ActiveMode) model.ActiveMode {
	switch m {
	case model.ModeObserve:
		return model.ModeCanary
	case model.ModeCanary:
		return model.ModeEnforce
	default:
		return m
	}
}

func demoteMode(m model.ActiveMode) model.ActiveMode {
	switch m {
	case model.ModeEnforce:
		return model.ModeCanary
	case model.ModeCanary:
		return model.ModeObserve
	default:
		return m
	}
}

func newPolicyModeCmd(use string, transform func(model.ActiveMode) model.ActiveMode) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s the persisted desired mode one step", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs := config.Load()
			if prefs.KillSwitch {
				fmt.Fprintln(os.Stderr, "sbh: kill switch is engaged; clear it before changing mode")
				return ExitCodeError{Code: exitPolicyRefused}
			}
			before := prefs.InitialMode
			prefs.InitialMode = transform(prefs.InitialMode)
			if err := config.Save(prefs); err != nil {
				fmt.Fprintf(os.Stderr, "sbh: save preferences: %v\n", err)
				return ExitCodeError{Code: exitIO}
			}
			fmt.Printf("sbh: desired mode %s -> %s\n", before, prefs.InitialMode)
			return nil
		},
	}
}

func newPolicyFallbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fallback",
		Short: "Force the persisted desired mode to FallbackSafe",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs := config.Load()
			prefs.InitialMode = model.ModeFallbackSafe
			if err := config.Save(prefs); err != nil {
				fmt.Fprintf(os.Stderr, "sbh: save preferences: %v\n", err)
				return ExitCodeError{Code: exitIO}
			}
			fmt.Println("sbh: desired mode -> FallbackSafe")
			return nil
		},
	}
}

func newPolicyKillSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "kill-switch [on|off]",
		Short:     "Engage or release the kill switch",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[0] {
			case "on":
				on = true
			case "off":
				on = false
			default:
				return fmt.Errorf("want \"on\" or \"off\", got %q", args[0])
			}
			prefs := config.Load()
			prefs.KillSwitch = on
			if err := config.Save(prefs); err != nil {
				fmt.Fprintf(os.Stderr, "sbh: save preferences: %v\n", err)
				return ExitCodeError{Code: exitIO}
			}
			fmt.Printf("sbh: kill switch -> %v\n", on)
			return nil
		},
	}
}

// ── verify ───────────────────────────────────────────────────────────

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [ballast-file...]",
		Short: "Verify ballast file integrity without reading full content",
		Long: `With no arguments, verifies every file in the configured data
directory's ballast/ subdirectory. With arguments, verifies exactly
those files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(args)
		},
	}
}

func runVerify(paths []string) error {
	if len(paths) == 0 {
		dir, err := dataDir()
		if err != nil {
			return ExitCodeError{Code: exitIO}
		}
		entries, err := os.ReadDir(filepath.Join(dir, "ballast"))
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintln(os.Stderr, "sbh: no ballast files provisioned")
				return ExitCodeError{Code: exitMissingAsset}
			}
			return ExitCodeError{Code: exitIO}
		}
		for _, e := range entries {
			if !e.IsDir() {
				paths = append(paths, filepath.Join(dir, "ballast", e.Name()))
			}
		}
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "sbh: no ballast files to verify")
		return ExitCodeError{Code: exitMissingAsset}
	}

	failed := false
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "sbh: %s: missing\n", p)
			return ExitCodeError{Code: exitMissingAsset}
		}
		hdr, err := collector.VerifyBallast(p)
		if err != nil {
			ve := &model.Error{
				Code:        model.ErrIntegrityFailed,
				Path:        p,
				Message:     "ballast checksum verification failed",
				Remediation: "release and re-provision this ballast file",
				Cause:       err,
			}
			fmt.Fprintf(os.Stderr, "sbh: %s\n", ve.Error())
			failed = true
			continue
		}
		fmt.Printf("sbh: %s: OK (%d bytes, created %s)\n", p, hdr.SizeBytes, hdr.CreatedAt.Format(time.RFC3339))
	}
	if failed {
		return fail(&model.Error{Code: model.ErrIntegrityFailed, Message: "one or more ballast files failed verification"})
	}
	return nil
}

// ── explain ──────────────────────────────────────────────────────────

func newExplainCmd() *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "explain <decision_id>",
		Short: "Explain a past decision at increasing levels of detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid decision id %q: %w", args[0], err)
			}
			return runExplain(id, level)
		},
	}
	cmd.Flags().IntVar(&level, "level", 1, "detail level 0-3 (0=one line, 3=full record)")
	return cmd
}

func runExplain(id uint64, level int) error {
	dir, err := dataDir()
	if err != nil {
		return ExitCodeError{Code: exitIO}
	}
	sqliteSink, err := telemetry.OpenSQLiteSink(sqlitePath(dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbh: open telemetry store: %v\n", err)
		return ExitCodeError{Code: exitIO}
	}
	defer sqliteSink.Close()

	reader := telemetry.NewCompositeReader(sqliteSink, telemetry.NewJSONLReader(jsonlPath(dir)))
	rec, err := reader.DecisionByID(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbh: look up decision: %v\n", err)
		return ExitCodeError{Code: exitIO}
	}
	if rec == nil {
		fmt.Fprintf(os.Stderr, "sbh: no decision record with id %d\n", id)
		return ExitCodeError{Code: exitIO}
	}

	printExplanation(*rec, level)
	return nil
}

func printExplanation(rec model.DecisionRecord, level int) {
	if level <= 0 {
		fmt.Printf("#%d %s %s (score=%.3f)\n", rec.DecisionID, rec.Path, rec.Action.Effective, rec.TotalScore)
		return
	}
	fmt.Printf("decision #%d\n", rec.DecisionID)
	fmt.Printf("  path:       %s\n", rec.Path)
	fmt.Printf("  size:       %d bytes, age %.0fs\n", rec.SizeBytes, rec.AgeSecs)
	fmt.Printf("  suggested:  %s\n", rec.Action.Suggested)
	fmt.Printf("  effective:  %s\n", rec.Action.Effective)
	fmt.Printf("  policy:     %s\n", rec.PolicyMode)
	fmt.Printf("  summary:    %s\n", rec.Summary)
	if level <= 1 {
		return
	}
	fmt.Printf("  total score:        %.4f\n", rec.TotalScore)
	fmt.Printf("  posterior abandoned: %.4f\n", rec.PosteriorAbandoned)
	fmt.Printf("  expected loss keep:   %.4f\n", rec.ExpectedLossKeep)
	fmt.Printf("  expected loss delete: %.4f\n", rec.ExpectedLossDelete)
	fmt.Printf("  calibration score:    %.4f\n", rec.CalibrationScore)
	fmt.Printf("  vetoed:               %v (%s)\n", rec.Vetoed, rec.VetoReason)
	if level <= 2 {
		return
	}
	data, err := json.MarshalIndent(rec, "  ", "  ")
	if err == nil {
		fmt.Printf("  record: %s\n", string(data))
	}
}

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Run the read-only live status dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard()
		},
	}
}

func runDashboard() error {
	dir, err := dataDir()
	if err != nil {
		return ExitCodeError{Code: exitIO}
	}
	sqliteSink, err := telemetry.OpenSQLiteSink(sqlitePath(dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbh: open telemetry store: %v\n", err)
		return ExitCodeError{Code: exitIO}
	}
	defer sqliteSink.Close()

	reader := telemetry.NewCompositeReader(sqliteSink, telemetry.NewJSONLReader(jsonlPath(dir)))
	dash := ui.New(statePath(dir), reader)
	if _, err := tea.NewProgram(dash).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sbh: dashboard: %v\n", err)
		return ExitCodeError{Code: exitIO}
	}
	return nil
}
