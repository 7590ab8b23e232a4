package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"DrawSight/internal/algorithms"
	"DrawSight/pkg/plugin"
)

func newPluginsCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the prediction plugins enabled by the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			builtins, err := algorithms.Builtins(cfg.Plugins.Builtins...)
			if err != nil {
				return err
			}
			metas := make([]plugin.Metadata, 0, len(builtins))
			for _, p := range builtins {
				metas = append(metas, p.Metadata())
			}
			sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(metas)
			case "table":
				return printPluginTable(cmd, metas)
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table/json)")
	return cmd
}

func printPluginTable(cmd *cobra.Command, metas []plugin.Metadata) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tVERSION\tMIN DATA\tCAPABILITIES")
	for _, m := range metas {
		caps := make([]string, 0, len(m.Capabilities))
		for _, c := range m.Capabilities {
			caps = append(caps, string(c))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.Category, m.Version, m.MinDataSize, strings.Join(caps, ","))
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
