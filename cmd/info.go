package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudchase/ollama-organizer/organizer"
	"github.com/cloudchase/ollama-organizer/registry"
)

var infoFormat string

var infoCmd = &cobra.Command{
	Use:   "info <model[:version]>",
	Short: "Show a model version's manifest",
	Long:  "Display the config and layer blobs a model version references, with sizes and backup state.",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().StringVarP(&infoFormat, "output", "o", formatText, "Output format: text, json or yaml")
}

type versionInfo struct {
	Model        string           `json:"model" yaml:"model"`
	Version      string           `json:"version" yaml:"version"`
	ManifestPath string           `json:"manifest_path" yaml:"manifest_path"`
	MediaType    string           `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	Config       registry.Layer   `json:"config" yaml:"config"`
	Layers       []registry.Layer `json:"layers" yaml:"layers"`
	TotalSize    int64            `json:"total_size" yaml:"total_size"`
	Missing      []string         `json:"missing_blobs,omitempty" yaml:"missing_blobs,omitempty"`
	BackedUp     bool             `json:"backed_up" yaml:"backed_up"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	if err := validFormat(infoFormat); err != nil {
		return err
	}
	task, err := organizer.ParseTask(args[0])
	if err != nil {
		return err
	}

	store := sourceStore()
	m, err := store.ResolveManifest(task.Model, task.Version)
	if errors.Is(err, registry.ErrManifestNotFound) {
		return fmt.Errorf("model '%s' not found", task)
	}
	if err != nil {
		return err
	}

	info := versionInfo{
		Model:        task.Model,
		Version:      task.Version,
		ManifestPath: store.ManifestPath(task.Model, task.Version),
		MediaType:    m.MediaType,
		Config:       m.Config,
		Layers:       m.Layers,
		TotalSize:    m.TotalSize(),
	}
	for _, d := range m.Digests() {
		if !store.HasBlob(d) {
			info.Missing = append(info.Missing, d.String())
		}
	}
	if records := loadRecords(); records != nil {
		info.BackedUp = records.Has(task)
	}

	out := cmd.OutOrStdout()
	if ok, err := writeStructured(out, infoFormat, info); ok {
		return err
	}

	fmt.Fprintf(out, "Model:      %s\n", info.Model)
	fmt.Fprintf(out, "Version:    %s\n", info.Version)
	fmt.Fprintf(out, "Manifest:   %s\n", info.ManifestPath)
	fmt.Fprintf(out, "Size:       %s\n", formatSize(info.TotalSize))
	fmt.Fprintf(out, "Backed up:  %t\n", info.BackedUp)
	fmt.Fprintf(out, "Config:     %s  %s\n", info.Config.Digest, formatSize(info.Config.Size))
	for i, l := range info.Layers {
		fmt.Fprintf(out, "Layer %-4d  %s  %s  %s\n", i, l.Digest, formatSize(l.Size), l.MediaType)
	}
	for _, d := range info.Missing {
		fmt.Fprintf(out, "Missing:    %s\n", d)
	}
	return nil
}
