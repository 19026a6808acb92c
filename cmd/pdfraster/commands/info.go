package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	pdfraster "github.com/docker/pdfraster"
)

func newInfoCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "info <input>",
		Short: "Print {num_pages, size_bytes} for a PDF without rendering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := pdfraster.NewClient()
			if err != nil {
				return err
			}
			defer client.Close()

			info, err := client.Info(cmd.Context(), pdfraster.FromPath(args[0]))
			if err != nil {
				return err
			}

			out, err := json.Marshal(struct {
				NumPages  int   `json:"num_pages"`
				SizeBytes int64 `json:"size_bytes"`
			}{info.NumPages, info.SizeBytes})
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}
	return c
}
