package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netdiag/internal/config"
	"netdiag/internal/daemon"
	"netdiag/internal/diagnostic"
	"netdiag/internal/kube"
	"netdiag/internal/metrics"
	"netdiag/internal/pattern"
	"netdiag/internal/workload"
)

// errChecksFailed is returned with --fail-on-unreachable when the run
// completed but some edge or probe failed
var errChecksFailed = errors.New("diagnostic checks failed")

type runOptions struct {
	workload          string
	pattern           string
	nodes             []string
	args              string
	report            string
	reportDir         string
	metricsFile       string
	failOnUnreachable bool
}

var runOpts runOptions

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a diagnostic workload between cluster nodes",
	Long: `Run a diagnostic workload along the edges of a communication pattern.

The iperf3 workload starts listeners on every node, releases all clients at
once and prints one bandwidth matrix per interface. The ping workload probes
every interface address of the target nodes from this pod and prints a
PASS/FAIL verdict.

Workload arguments are a JSON object, e.g. --args '{"pclients":"4"}'.`,
	Example: `  netdiag run --workload iperf3 --pattern ring --nodes worker-1,worker-2,worker-3
  netdiag run --workload ping --pattern all-to-all --nodes worker-1,worker-2 --fail-on-unreachable`,
	RunE: runWorkload,
}

func runWorkload(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := diagnostic.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		level = diagnostic.DEBUG
	}
	logger, err := diagnostic.NewLoggerInDir(cfg.LogDir, cmd.ErrOrStderr(), level)
	if err != nil {
		return err
	}
	defer logger.Close()

	edges, err := pattern.Generate(runOpts.pattern, runOpts.nodes)
	if err != nil {
		return err
	}
	logger.LogInfo("Pattern %s over %d nodes: %d edges", runOpts.pattern, len(runOpts.nodes), len(edges))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := kube.NewClientset(cfg.Kubeconfig)
	if err != nil {
		logger.LogErrorWithCause(err, "Failed to create kubernetes client")
		return err
	}

	rec := metrics.NewRecorder()
	deps := workload.Deps{
		Config:  cfg,
		Kube:    client,
		Daemon:  daemon.NewClient(cfg.DaemonPort, cfg.RequestTimeout),
		Metrics: rec,
		Logger:  logger,
		Out:     cmd.OutOrStdout(),
	}
	w, err := workload.New(runOpts.workload, deps, runOpts.nodes, json.RawMessage(runOpts.args))
	if err != nil {
		return err
	}

	start := time.Now()
	report, runErr := workload.Execute(ctx, workload.NewLifecycle(w, rec, logger), edges)
	end := time.Now()
	if runErr != nil {
		logger.LogErrorWithCause(runErr, "Workload %s failed", w.Name())
	}

	if runOpts.report != "" {
		info := diagnostic.RunInfo{
			Workload:   w.Name(),
			Pattern:    runOpts.pattern,
			Nodes:      runOpts.nodes,
			Namespace:  cfg.Namespace,
			Kubeconfig: cfg.Kubeconfig,
			Verbose:    cfg.Verbose,
		}
		var result interface{}
		var passed bool
		var lines []string
		if report != nil {
			result, passed, lines = report, report.Passed, report.Summary
		}
		out := diagnostic.CreateRunReport(info, result, passed, lines, runErr, start, end)
		path, err := diagnostic.SaveReport(runOpts.reportDir, &out, runOpts.report)
		if err != nil {
			logger.LogErrorWithCause(err, "Failed to save report")
		} else {
			logger.LogInfo("Report saved to %s", path)
		}
	}

	if runOpts.metricsFile != "" {
		if err := rec.WriteTextfile(runOpts.metricsFile); err != nil {
			logger.LogErrorWithCause(err, "Failed to write metrics to %s", runOpts.metricsFile)
		}
	}

	if runErr != nil {
		return runErr
	}
	if runOpts.failOnUnreachable && !report.Passed {
		return fmt.Errorf("%s: %w", w.Name(), errChecksFailed)
	}
	return nil
}

func validateRunFlags(cmd *cobra.Command, _ []string) error {
	switch runOpts.report {
	case "", "json", "yaml":
	default:
		return fmt.Errorf("--report must be json or yaml, got %q", runOpts.report)
	}
	nodes, err := trimNodes(runOpts.nodes)
	if err != nil {
		return err
	}
	runOpts.nodes = nodes
	return nil
}

// trimNodes strips surrounding blanks from each --nodes entry, so that
// "worker-1, worker-2" names two nodes
func trimNodes(nodes []string) ([]string, error) {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, fmt.Errorf("--nodes contains an empty node name")
		}
		out = append(out, n)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.PreRunE = validateRunFlags
	runCmd.Flags().StringVarP(&runOpts.workload, "workload", "w", "iperf3", fmt.Sprintf("workload to run %v", workload.Names()))
	runCmd.Flags().StringVarP(&runOpts.pattern, "pattern", "p", string(pattern.Ring), fmt.Sprintf("communication pattern %v", pattern.Kinds()))
	runCmd.Flags().StringSliceVar(&runOpts.nodes, "nodes", nil, "comma separated node names")
	runCmd.Flags().StringVar(&runOpts.args, "args", "", "workload arguments as a JSON object")
	runCmd.Flags().StringVar(&runOpts.report, "report", "", "also write a json or yaml report file")
	runCmd.Flags().StringVar(&runOpts.reportDir, "report-dir", diagnostic.DefaultReportDir, "directory for report files")
	runCmd.Flags().StringVar(&runOpts.metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
	runCmd.Flags().BoolVar(&runOpts.failOnUnreachable, "fail-on-unreachable", false, "exit non-zero when any edge or probe failed")
	_ = runCmd.MarkFlagRequired("nodes")
}
