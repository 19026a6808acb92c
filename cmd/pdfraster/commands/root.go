// Package commands implements the pdfraster CLI's command tree, a thin
// wrapper over the library's Client/Convert surface: argument parsing,
// exit-code mapping, and help/version output live here; every actual
// conversion decision is made by the library.
package commands

import "github.com/spf13/cobra"

// NewRootCmd builds the pdfraster command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pdfraster",
		Short:         "Convert PDF documents into per-page raster images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newConvertCmd(),
		newInfoCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
