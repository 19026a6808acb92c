package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	pdfraster "github.com/docker/pdfraster"
	"github.com/docker/pdfraster/pkg/config"
	"github.com/docker/pdfraster/pkg/encode"
	"github.com/docker/pdfraster/pkg/outputsink"
)

func invalidArgs(format string, args ...any) error {
	return &CLIError{code: ExitInvalidArgs, err: fmt.Errorf(format, args...)}
}

func newConvertCmd() *cobra.Command {
	var (
		outDir   string
		pages    string
		format   string
		prefix   string
		quality  int
		renderer string
		workers  int
	)

	c := &cobra.Command{
		Use:   "convert <input>",
		Short: "Render a PDF's pages to images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]

			pageSel, err := parsePages(pages)
			if err != nil {
				return invalidArgs("%s", err)
			}

			fmtVal, err := encode.ParseFormat(format)
			if err != nil {
				return invalidArgs("%s", err)
			}

			rendererVal, err := parseRenderer(renderer)
			if err != nil {
				return invalidArgs("%s", err)
			}

			if outDir == "" {
				return invalidArgs("convert: -o/--output-dir is required")
			}

			var clientOpts []config.Option
			if workers > 0 {
				clientOpts = append(clientOpts, config.WithWorkerSlots(workers))
			}
			client, err := pdfraster.NewClient(clientOpts...)
			if err != nil {
				return err
			}
			defer client.Close()

			encOpts := encode.DefaultOptions()
			encOpts.Format = fmtVal
			if quality > 0 {
				switch fmtVal {
				case encode.FormatWebP:
					encOpts.WebPQuality = quality
				case encode.FormatJPEG:
					encOpts.JPEGQuality = quality
				}
			}

			result, err := client.Convert(cmd.Context(), pdfraster.FromPath(input), pdfraster.Options{
				Pages:    pageSel,
				Encode:   encOpts,
				Renderer: rendererVal,
				Output: outputsink.Config{
					Mode:      outputsink.ModeFile,
					OutputDir: outDir,
					Prefix:    prefix,
				},
			})
			if err != nil {
				return err
			}

			cmd.Printf("converted %d/%d pages (%s, %s)\n", result.RenderedPages, result.NumPages, result.Format, result.RendererUsed)

			exitCode := ExitSuccess
			for _, p := range result.Pages {
				if p.Error != nil {
					cmd.PrintErrf("page %d failed: %v\n", p.PageIndex, p.Error)
					exitCode = pageFailureExitCode(p.Error)
				}
			}
			if exitCode != ExitSuccess {
				return &CLIError{code: exitCode, err: fmt.Errorf("one or more pages failed")}
			}
			return nil
		},
	}

	c.Flags().StringVarP(&outDir, "output-dir", "o", "", "directory to write page images to")
	c.Flags().StringVarP(&pages, "pages", "p", "", `"all", a comma-separated list of page numbers, or omit for the first six`)
	c.Flags().StringVar(&format, "format", "webp", "output image format: webp, png, jpg")
	c.Flags().StringVar(&prefix, "prefix", "page", "output filename prefix")
	c.Flags().IntVar(&quality, "quality", 0, "codec quality override (0 keeps the format's default)")
	c.Flags().StringVar(&renderer, "renderer", "auto", "renderer override: native, portable, or auto")
	c.Flags().IntVar(&workers, "workers", 0, "worker pool size override (0 uses the CPU-topology default)")
	return c
}

func parsePages(s string) (pdfraster.PageSelection, error) {
	switch s {
	case "":
		return pdfraster.DefaultPages(), nil
	case "all":
		return pdfraster.AllPages(), nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return pdfraster.PageSelection{}, fmt.Errorf("convert: invalid page list %q: %w", s, err)
		}
		out = append(out, n)
	}
	return pdfraster.ExplicitPages(out), nil
}

func parseRenderer(s string) (pdfraster.Renderer, error) {
	switch pdfraster.Renderer(s) {
	case pdfraster.RendererAuto, pdfraster.RendererNative, pdfraster.RendererPortable:
		return pdfraster.Renderer(s), nil
	default:
		return "", fmt.Errorf("convert: unknown renderer %q", s)
	}
}
