package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudchase/ollama-organizer/organizer"
	"github.com/cloudchase/ollama-organizer/registry"
	"github.com/cloudchase/ollama-organizer/telemetry"
)

var (
	organizeAll           bool
	organizeModels        []string
	organizeConcurrency   int
	organizeVerifyContent bool
	organizeMetricsFile   string
	organizeSummaryFormat string
)

var organizeCmd = &cobra.Command{
	Use:   "organize [model:version ...]",
	Short: "Copy model versions into the backup directory",
	Long: `Copy each selected model version into <output>/<model>/<version>/models,
verifying every blob. Versions already recorded in processed_models.json are
skipped; failures are written to error_log.json and do not stop the batch.

Select versions with model:version arguments, --model (every version of a
model, repeatable) or --all.`,
	RunE: runOrganize,
}

func init() {
	f := organizeCmd.Flags()
	f.BoolVar(&organizeAll, "all", false, "Organize every version in the library")
	f.StringSliceVar(&organizeModels, "model", nil, "Organize every version of this model (repeatable)")
	f.IntVarP(&organizeConcurrency, "concurrency", "j", 0, "Versions copied in parallel (default from settings, 3)")
	f.BoolVar(&organizeVerifyContent, "verify-content", false, "Hash copied blobs and compare them to their digests")
	f.StringVar(&organizeMetricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")
	f.StringVar(&organizeSummaryFormat, "summary-format", formatText, "Summary format: text, json or yaml")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	if err := validFormat(organizeSummaryFormat); err != nil {
		return err
	}
	output, err := outputRoot()
	if err != nil {
		return err
	}

	mgr := sourceManager()
	tasks, err := selectTasks(mgr, args, organizeModels, organizeAll)
	if err != nil {
		return err
	}

	exec := organizer.NewExecutor(mgr.Store())
	exec.VerifyContent = settings.VerifyContent
	if cmd.Flags().Changed("verify-content") {
		exec.VerifyContent = organizeVerifyContent
	}
	exec.Tracer = telemetry.Tracer()

	sched := organizer.NewScheduler(exec, settings.Concurrency)
	if cmd.Flags().Changed("concurrency") {
		sched.Concurrency = organizeConcurrency
	}
	sched.Logger = logger
	sched.Metrics = telemetry.NewMetrics()

	out := cmd.OutOrStdout()
	events := make(chan organizer.Event, 16)
	type result struct {
		sum *organizer.Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := sched.Run(cmd.Context(), organizer.Batch{Tasks: tasks, OutputRoot: output}, events)
		done <- result{sum, err}
	}()
	newProgressPrinter(out).drain(events)
	res := <-done

	if organizeMetricsFile != "" {
		if err := sched.Metrics.WriteTextfile(organizeMetricsFile); err != nil {
			logger.WithError(err).Warn("metrics file not written")
		}
	}
	if res.sum != nil {
		if err := writeSummary(out, organizeSummaryFormat, res.sum); err != nil {
			return err
		}
	}
	if res.err != nil {
		return res.err
	}
	if res.sum.Failed > 0 {
		return fmt.Errorf("%d model versions failed, see %s", res.sum.Failed, res.sum.FailureLog)
	}
	return nil
}

// selectTasks builds the batch from explicit arguments, whole models and
// --all, in that order. Duplicates are left for the scheduler to collapse.
func selectTasks(mgr *registry.ModelManager, args, models []string, all bool) ([]organizer.Task, error) {
	var tasks []organizer.Task
	for _, a := range args {
		t, err := organizer.ParseTask(a)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	for _, model := range models {
		versions, err := mgr.ListVersions(model)
		if err != nil {
			return nil, fmt.Errorf("list versions of %s: %w", model, err)
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("model '%s' has no versions", model)
		}
		for _, v := range versions {
			tasks = append(tasks, organizer.Task{Model: model, Version: v})
		}
	}
	if all {
		mvs, err := mgr.ListAll()
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		tasks = append(tasks, organizer.TasksFromVersions(mvs)...)
	}
	if len(tasks) == 0 {
		return nil, errors.New("nothing to organize: name model:version arguments, --model or --all")
	}
	return tasks, nil
}

func writeSummary(w io.Writer, format string, sum *organizer.Summary) error {
	if ok, err := writeStructured(w, format, sum); ok {
		return err
	}
	fmt.Fprintf(w, "\n%d organized, %d skipped, %d failed, %d cancelled of %d (%d blobs, %s) in %s\n",
		sum.Succeeded, sum.Skipped, sum.Failed, sum.Cancelled, sum.Total,
		sum.BlobsCopied, formatSize(sum.BytesCopied), sum.Elapsed.Round(10*time.Millisecond))
	fmt.Fprintf(w, "Completion record: %s\n", sum.RecordPath)
	if sum.FailureLog != "" {
		fmt.Fprintf(w, "Failure log:       %s\n", sum.FailureLog)
	}
	return nil
}
