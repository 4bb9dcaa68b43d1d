package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wadahiro/flowlens/internal/flow"
)

func newFlowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List saved flows, most recently modified first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := loadSavedState()
			if err != nil {
				return err
			}
			return printFlows(cmd.OutOrStdout(), state)
		},
	}
}

func newExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export [flow-id]",
		Short: "Write saved state, or one flow, as JSON or YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := loadSavedState()
			if err != nil {
				return err
			}
			var v any = state
			if len(args) == 1 {
				f, ok := flow.FindFlow(state, args[0])
				if !ok {
					return fmt.Errorf("flow %s not found", args[0])
				}
				v = f
			}
			return writeExport(cmd.OutOrStdout(), format, v)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	return cmd
}

func loadSavedState() (flow.AppState, error) {
	cfg, err := loadConfig()
	if err != nil {
		return flow.AppState{}, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return flow.AppState{}, err
	}
	defer store.Close()
	return store.LoadState(), nil
}

func printFlows(w io.Writer, state flow.AppState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSERVER\tSTEPS\tMODIFIED\t")
	for _, f := range flow.SortedByLastModified(state) {
		name := f.Name
		if f.ID == state.ActiveFlowID {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t\n", f.ID, name, f.ServerURL, len(f.Steps), f.LastModified.Format(time.RFC3339))
	}
	return tw.Flush()
}

// writeExport encodes v in the requested format. YAML output keeps the JSON field names.
func writeExport(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q: must be json or yaml", format)
	}
}
