package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudchase/ollama-organizer/organizer"
	"github.com/cloudchase/ollama-organizer/registry"
)

var listCmd = &cobra.Command{
	Use:     "list [model]",
	Aliases: []string{"ls"},
	Short:   "List local model versions",
	Long: `List every version in the Ollama library, or the versions of one model,
with blob count, total size and whether the version is already backed up in
the output directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	mgr := sourceManager()

	var versions []registry.ModelVersion
	if len(args) == 1 {
		names, err := mgr.ListVersions(args[0])
		if err != nil {
			return fmt.Errorf("list versions: %w", err)
		}
		for _, v := range names {
			versions = append(versions, registry.ModelVersion{Model: args[0], Version: v})
		}
	} else {
		all, err := mgr.ListAll()
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		versions = all
	}

	out := cmd.OutOrStdout()
	if len(versions) == 0 {
		fmt.Fprintf(out, "No models found under %s.\n", mgr.Store().LibraryDir())
		return nil
	}
	return writeVersionTable(out, mgr, versions, loadRecords())
}

// loadRecords opens the completion record of the configured output root.
// A missing output root or unreadable record only loses the BACKED UP column.
func loadRecords() *organizer.RecordStore {
	if settings.OutputRoot == "" {
		return nil
	}
	records, err := organizer.LoadRecordStore(organizer.RecordPath(settings.OutputRoot))
	if err != nil {
		logger.WithError(err).Warn("completion record unreadable")
		return nil
	}
	return records
}

func writeVersionTable(out io.Writer, mgr *registry.ModelManager, versions []registry.ModelVersion, records *organizer.RecordStore) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tVERSION\tBLOBS\tSIZE\tBACKED UP")
	for _, mv := range versions {
		blobs, size := "-", "-"
		if m, err := mgr.GetManifest(mv.Model, mv.Version); err == nil {
			blobs = fmt.Sprint(len(m.Digests()))
			size = formatSize(m.TotalSize())
		} else {
			logger.WithError(err).WithField("model", mv.Model).Debug("manifest unreadable")
		}

		backedUp := "-"
		if records != nil {
			backedUp = "no"
			if records.Has(organizer.Task{Model: mv.Model, Version: mv.Version}) {
				backedUp = "yes"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mv.Model, mv.Version, blobs, size, backedUp)
	}
	return w.Flush()
}
