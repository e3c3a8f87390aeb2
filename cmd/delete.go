package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudchase/ollama-organizer/organizer"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:     "delete <model:version> [model:version ...]",
	Aliases: []string{"rm"},
	Short:   "Delete model versions from the Ollama library",
	Long: `Remove version manifests from the source Ollama library. Blobs are left in
place; Ollama prunes unreferenced blobs itself. Versions that do not exist are
reported as not found.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Do not ask for confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	tasks := make([]organizer.Task, 0, len(args))
	for _, a := range args {
		t, err := organizer.ParseTask(a)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}

	mgr := sourceManager()
	out := cmd.OutOrStdout()
	if !deleteYes {
		fmt.Fprintf(out, "Delete %d model version(s) from %s? [y/N] ", len(tasks), mgr.Store().LibraryDir())
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	d := organizer.NewDeleter(mgr)
	d.Logger = logger

	events := make(chan organizer.Event, 16)
	done := make(chan *organizer.DeleteSummary, 1)
	go func() {
		done <- d.Run(cmd.Context(), tasks, events)
	}()
	newProgressPrinter(out).drain(events)
	sum := <-done

	fmt.Fprintf(out, "\n%d deleted, %d not found, %d failed of %d\n", sum.Deleted, sum.NotFound, sum.Failed, sum.Total)
	if sum.Failed > 0 {
		return fmt.Errorf("%d deletions failed", sum.Failed)
	}
	return nil
}
