package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// manifestEnv provides the environment for the manifest command.
type manifestEnv struct {
	root *rootEnv
	dir  string
}

// getManifestCmd returns the definition of the manifest command.
func getManifestCmd(root *rootEnv) *cobra.Command {
	env := &manifestEnv{root: root}
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "List the templates defined by the manifest directory",
		Args:  cobra.NoArgs,
		RunE:  env.runManifestCmd,
	}

	cmd.Flags().StringVar(&env.dir, "dir", "", "manifest directory (defaults to manifestDir)")

	return cmd
}

func (m *manifestEnv) runManifestCmd(cmd *cobra.Command, _ []string) error {
	if m.dir != "" {
		m.root.cfg.ManifestDir = m.dir
	}
	if m.root.cfg.ManifestDir == "" {
		return fmt.Errorf("no manifest directory configured")
	}

	registry, err := m.root.registry()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH\tTHRESHOLD\tMETHOD\tCENTER\tMASK\tREGION")
	for _, name := range registry.List() {
		entry, _ := registry.Get(name)
		threshold, center, mask, region, method := "-", "-", "-", "-", "-"
		if entry.Threshold != nil {
			threshold = strconv.FormatFloat(*entry.Threshold, 'g', -1, 64)
		}
		if entry.Center != nil {
			center = strconv.FormatBool(*entry.Center)
		}
		if entry.UseMask != nil {
			mask = strconv.FormatBool(*entry.UseMask)
		}
		if entry.Region != nil {
			region = entry.Region.String()
		}
		if entry.Method != "" {
			method = entry.Method
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", entry.Name, entry.Path, threshold, method, center, mask, region)
	}
	return w.Flush()
}
