// Command locate finds template images in image files or on screen.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errNotFound) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag state out of tests.
func newRootCmd() *cobra.Command {
	env := &rootEnv{}
	root := &cobra.Command{
		Use:   "locate",
		Short: "Locate template images in screenshots or live captures",
		Long: `
locate matches small template images against a frame (an image file, a window
or a whole display) and prints where they were found.

Defaults come from the [Locator] section of Settings.ini; flags override them.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return env.load()
		},
	}

	root.PersistentFlags().StringVar(&env.configPath, "config", "Settings.ini", "path to the settings file")
	root.PersistentFlags().StringVar(&env.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		getFindCmd(env),
		getCaptureCmd(env),
		getManifestCmd(env),
		getConfigCmd(env),
		getJournalCmd(env),
	)
	return root
}
