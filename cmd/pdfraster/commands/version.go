package commands

import "github.com/spf13/cobra"

// Version and VersionInfo are set at build time via -ldflags, matching the
// teacher's own version-stamping convention.
var (
	Version     = "dev"
	VersionInfo = "unknown"
)

func newVersionCmd() *cobra.Command {
	var long bool
	c := &cobra.Command{
		Use:   "version",
		Short: "Show the pdfraster version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if long {
				cmd.Printf("pdfraster %s (%s)\n", Version, VersionInfo)
				return nil
			}
			cmd.Printf("pdfraster %s\n", Version)
			return nil
		},
	}
	c.Flags().BoolVar(&long, "version-info", false, "print extended build information")
	return c
}
