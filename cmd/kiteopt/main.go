package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/san-kum/kiteopt/internal/config"
	"github.com/san-kum/kiteopt/internal/homotopy"
	"github.com/san-kum/kiteopt/internal/metrics"
	"github.com/san-kum/kiteopt/internal/ocp"
	"github.com/san-kum/kiteopt/internal/plot"
	"github.com/san-kum/kiteopt/internal/solver"
	"github.com/san-kum/kiteopt/internal/storage"
	"github.com/san-kum/kiteopt/internal/study"
	"github.com/san-kum/kiteopt/internal/sweep"
	"github.com/san-kum/kiteopt/internal/telemetry"
	"github.com/san-kum/kiteopt/internal/tui"
)

const runConfigFile = "config.yaml"

var (
	dataDir string
	verbose bool

	configFile   string
	preset       string
	nk           int
	nicp         int
	deg          int
	maxIter      int
	windSpeed    float64
	periodicity  string
	noTelemetry  bool
	endpoint     string
	topic        string
	resetCounter bool

	plotVars  string
	outFile   string
	threshold float64

	winds   []float64
	workers int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "kiteopt",
		Short:        "tethered kite trajectory optimization",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [study]",
		Short: "solve a study and save the result",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStudy,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	runCmd.Flags().IntVar(&nk, "nk", config.DefaultNK, "control intervals")
	runCmd.Flags().IntVar(&nicp, "nicp", config.DefaultNICP, "sub-intervals per control interval")
	runCmd.Flags().IntVar(&deg, "deg", config.DefaultDeg, "collocation degree")
	runCmd.Flags().IntVar(&maxIter, "max-iter", solver.DefaultOptions().MaxIter, "inner iterations per solve")
	runCmd.Flags().Float64Var(&windSpeed, "wind", 10, "wind speed (m/s)")
	runCmd.Flags().StringVar(&periodicity, "periodicity", config.DefaultPeriodicity, "attitude periodicity: dcm, orthonormalized_dcm or eulers")
	runCmd.Flags().BoolVar(&noTelemetry, "no-telemetry", false, "do not publish iterations")
	runCmd.Flags().StringVar(&endpoint, "endpoint", telemetry.DefaultEndpoint, "telemetry PUB endpoint")
	runCmd.Flags().BoolVar(&resetCounter, "reset-counter", false, "restart the iteration count at every homotopy stage")

	sweepCmd := &cobra.Command{
		Use:   "sweep [study]",
		Short: "solve a study at several wind speeds concurrently",
		Args:  cobra.MaximumNArgs(1),
		RunE:  sweepStudy,
	}
	sweepCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	sweepCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	sweepCmd.Flags().IntVar(&nk, "nk", config.DefaultNK, "control intervals")
	sweepCmd.Flags().IntVar(&maxIter, "max-iter", solver.DefaultOptions().MaxIter, "inner iterations per solve")
	sweepCmd.Flags().Float64SliceVar(&winds, "winds", []float64{8, 10, 12}, "wind speeds (m/s)")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "concurrent solves (0 = GOMAXPROCS)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	studiesCmd := &cobra.Command{
		Use:   "studies",
		Short: "list available studies",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STUDY\tHOMOTOPY\tDESCRIPTION")
			for _, s := range study.NewRegistry().List() {
				fmt.Fprintf(w, "%s\t%v\t%s\n", s.Name, s.Homotopy, s.Description)
			}
			return w.Flush()
		},
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a run in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&plotVars, "vars", "x,y,z,airspeed", "comma separated variables")

	renderCmd := &cobra.Command{
		Use:   "render [run_id]",
		Short: "render run subplots to png or svg",
		Args:  cobra.ExactArgs(1),
		RunE:  renderRun,
	}
	renderCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default <run dir>/trajectory.png)")
	renderCmd.Flags().StringVar(&configFile, "config", "", "config file with plot groups")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run data to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "follow a running optimization",
		RunE:  watch,
	}
	watchCmd.Flags().StringVar(&endpoint, "endpoint", "tcp://localhost:5563", "telemetry endpoint")
	watchCmd.Flags().StringVar(&topic, "topic", telemetry.DefaultTopic, "telemetry topic")

	presetsCmd := &cobra.Command{
		Use:   "presets [study]",
		Short: "list available presets for a study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for study: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	feedbackCmd := &cobra.Command{
		Use:   "feedback [run_id]",
		Short: "show active bounds and constraint residuals of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  feedback,
	}
	feedbackCmd.Flags().Float64Var(&threshold, "threshold", 1e-4, "distance to a bound counted as active")

	rootCmd.AddCommand(runCmd, sweepCmd, listCmd, studiesCmd, plotCmd, renderCmd, exportCSVCmd, exportJSONCmd, watchCmd, presetsCmd, feedbackCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.DisableStacktrace = true
	}
	return cfg.Build()
}

// loadConfig applies preset, then config file, then explicitly set flags.
func loadConfig(cmd *cobra.Command, name string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(name, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(name))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if name != "" {
		cfg.Study = name
	}

	flags := cmd.Flags()
	if flags.Changed("nk") {
		cfg.Discretization.NK = nk
	}
	if flags.Changed("nicp") {
		cfg.Discretization.NICP = nicp
	}
	if flags.Changed("deg") {
		cfg.Discretization.Deg = deg
	}
	if flags.Changed("max-iter") {
		cfg.Solver.MaxIter = maxIter
	}
	if flags.Changed("wind") {
		cfg.Kite.WindSpeed = windSpeed
	}
	if flags.Changed("periodicity") {
		cfg.Kite.Periodicity = periodicity
	}
	if flags.Changed("endpoint") {
		cfg.Telemetry.Endpoint = endpoint
	}
	if flags.Changed("reset-counter") {
		cfg.Telemetry.ResetPerStage = resetCounter
	}
	if noTelemetry {
		cfg.Telemetry.Enabled = false
	}
	if flags.Changed("data") {
		cfg.Storage.DataDir = dataDir
	} else if cfg.Storage.DataDir != "" {
		dataDir = cfg.Storage.DataDir
	}
	return cfg, cfg.Validate()
}

func runStudy(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	cfg, err := loadConfig(cmd, name)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := study.NewRegistry().Get(cfg.Study)
	if err != nil {
		return err
	}
	o, err := s.Build(cfg, logger)
	if err != nil {
		return err
	}
	nlp, err := solver.NewAugLag(cfg.Solver, logger)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	sink := &storage.RunSink{
		Store:   st,
		Study:   cfg.Study,
		Variant: preset,
		Metrics: func(traj *ocp.Trajectory) map[string]float64 {
			return metrics.Summary(traj, metrics.Defaults(cfg.Kite.MinAltitude)...)
		},
	}

	d := &homotopy.Driver{
		Problem: o,
		Solver:  nlp,
		Param:   cfg.Homotopy.Param,
		Sink:    sink,
		Logger:  logger,
	}
	if s.Homotopy {
		d.Stages = cfg.Homotopy.Stages
	}

	pub := startTelemetry(ctx, cfg, logger)
	if pub != nil {
		defer pub.Close()
		d.Monitor = telemetry.NewCallback(o.Layout(), pub, telemetry.CallbackOptions{
			ResetPerStage: cfg.Telemetry.ResetPerStage,
			WindParam:     "w0",
			WindSpeed:     cfg.Kite.WindSpeed,
		}, logger)
	}

	fmt.Printf("solving %s (nk=%d nicp=%d deg=%d, %d variables)...\n",
		cfg.Study, cfg.Discretization.NK, cfg.Discretization.NICP, cfg.Discretization.Deg, o.Layout().Len())

	report, err := d.Run(ctx, nil)
	if err != nil {
		var stageErr *homotopy.StageError
		if errors.As(err, &stageErr) {
			return fmt.Errorf("%s failed in stage %d: %w", cfg.Study, stageErr.Stage, err)
		}
		return err
	}

	if err := config.Save(filepath.Join(st.Dir(), sink.RunID, runConfigFile), cfg); err != nil {
		logger.Warn("could not save run config", zap.Error(err))
	}

	fmt.Printf("completed in %v\n", report.Elapsed)
	fmt.Printf("run id: %s\n", sink.RunID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tBOUND\tITERS\tOBJECTIVE\tVIOLATION\tSTATUS")
	for _, sum := range report.Stages {
		bound := "-"
		if sum.Bound != nil {
			bound = fmt.Sprintf("[%g, %g]", sum.Bound.Lower, sum.Bound.Upper)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%.6g\t%.2e\t%s\n", sum.Stage, bound, sum.Iterations, sum.Objective, sum.Violation, sum.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if pub != nil {
		stats := pub.Stats()
		fmt.Printf("telemetry: %d published, %d sent, %d dropped, %d failed\n", stats.Published, stats.Sent, stats.Dropped, stats.Failed)
	}
	return nil
}

// startTelemetry binds the PUB socket. A bind failure is logged and nil is
// returned; the solve then runs without a monitor.
func startTelemetry(ctx context.Context, cfg *config.Config, logger *zap.Logger) *telemetry.Publisher {
	if !cfg.Telemetry.Enabled {
		return nil
	}
	sender, err := telemetry.ListenPUB(ctx, cfg.Telemetry.Endpoint)
	if err != nil {
		logger.Warn("telemetry disabled", zap.String("endpoint", cfg.Telemetry.Endpoint), zap.Error(err))
		return nil
	}
	fmt.Printf("publishing telemetry on %s (topic %s)\n", sender.Addr(), cfg.Telemetry.Topic)
	return telemetry.NewPublisher(sender, cfg.Telemetry.Topic, cfg.Telemetry.QueueSize, logger)
}

func sweepStudy(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	cfg, err := loadConfig(cmd, name)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	r := &sweep.Runner{
		Registry: study.NewRegistry(),
		Store:    st,
		Workers:  workers,
		Logger:   logger,
	}
	fmt.Printf("sweeping %s over %d wind speeds...\n", cfg.Study, len(winds))
	outcomes, err := r.Run(ctx, sweep.WindVariants(cfg, winds))
	if err != nil {
		return err
	}

	failed := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tRUN\tITERS\tOBJECTIVE\tERROR")
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\t-\t-\t-\t%v\n", out.Variant, out.Err)
			continue
		}
		last := out.Report.Stages[len(out.Report.Stages)-1]
		fmt.Fprintf(w, "%s\t%s\t%d\t%.6g\t\n", out.Variant, out.RunID, out.Report.Iterations(), last.Objective)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d variants failed", failed, len(outcomes))
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTUDY\tTIME\tGRID\tSTAGES\tITERS\tOBJECTIVE")
	for _, run := range runs {
		d := run.Discretization
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d/%d\t%d\t%d\t%.6g\n",
			run.ID,
			run.Study,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			d.NK, d.NICP, d.Deg,
			len(run.Stages),
			run.Iterations,
			run.Objective,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("study: %s\n", meta.Study)
	fmt.Printf("end time: %.4fs\n\n", traj.Params["endTime"])

	for _, name := range strings.Split(plotVars, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		_, data, err := traj.Series(name)
		if err != nil {
			fmt.Printf("skipping %s: %v\n\n", name, err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(name),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func renderRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	traj, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		if cfg, err = config.Load(configFile); err != nil {
			return err
		}
	} else if saved, err := config.Load(filepath.Join(st.Dir(), runID, runConfigFile)); err == nil {
		cfg = saved
	}

	groups := cfg.Plot.Groups
	if len(groups) == 0 {
		groups = plot.DefaultGroups(traj)
	}
	path := outFile
	if path == "" {
		path = filepath.Join(st.Dir(), runID, "trajectory.png")
	}
	if err := plot.Render(traj, groups, cfg.Plot.Width, cfg.Plot.Height, path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	return storage.ExportCSV(os.Stdout, traj)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, meta, traj)
}

func watch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sub, err := telemetry.DialSUB(ctx, endpoint, topic)
	if err != nil {
		return err
	}
	defer sub.Close()

	final, err := tea.NewProgram(tui.NewModel(sub, endpoint), tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(tui.Model); ok && m.Err() != nil && ctx.Err() == nil {
		return m.Err()
	}
	return nil
}

func feedback(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}

	cfg, err := config.Load(filepath.Join(st.Dir(), runID, runConfigFile))
	if err != nil {
		cfg = config.DefaultConfig()
		cfg.Study = meta.Study
		cfg.Discretization = meta.Discretization
		fmt.Printf("no saved config for %s, using defaults\n", runID)
	}
	s, err := study.NewRegistry().Get(cfg.Study)
	if err != nil {
		return err
	}
	o, err := s.Build(cfg, nil)
	if err != nil {
		return err
	}
	if len(meta.Stages) > 0 {
		last := meta.Stages[len(meta.Stages)-1]
		if last.Bound != nil {
			if err := o.Bound(meta.Param, last.Bound.Lower, last.Bound.Upper, ocp.Force()); err != nil {
				return err
			}
		}
	}
	p, err := o.Problem()
	if err != nil {
		return err
	}
	x, err := o.Layout().Encode(traj)
	if err != nil {
		return err
	}

	active, err := p.BoundsFeedback(x, threshold)
	if err != nil {
		return err
	}
	fmt.Printf("active bounds (%d):\n", len(active))
	for _, a := range active {
		fmt.Printf("  %s\n", a)
	}

	fmt.Println("\nconstraint residuals:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tCOUNT\tMAX")
	for _, v := range p.ConstraintReport(x) {
		fmt.Fprintf(w, "  %s\t%d\t%.3e\n", v.Name, v.Count, v.Max)
	}
	return w.Flush()
}
