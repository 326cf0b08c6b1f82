package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meigma/folio"
	"github.com/meigma/folio/chapter"
)

var (
	imagesOnly bool
	showPages  bool
	outputDir  string
	overwrite  bool
	noProgress bool
)

var entriesCmd = &cobra.Command{
	Use:   "entries <archive|url>",
	Short: "List the entries of an archive",
	Long: `Entries prints the Central Directory of an archive: name, compression
method, sizes, and CRC-32. Directory entries are omitted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, release, err := openArchive(cmd.Context(), args[0], folio.WithImagesOnly(imagesOnly))
		if err != nil {
			return err
		}
		defer release()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMETHOD\tSIZE\tCOMPRESSED\tCRC32")
		for _, e := range archive.Entries() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%08x\n",
				e.Name, e.Method, e.UncompressedSize, e.CompressedSize, e.CRC32)
		}
		return w.Flush()
	},
}

var chaptersCmd = &cobra.Command{
	Use:   "chapters <archive|url>",
	Short: "Group the pages of an archive into chapters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, release, err := openArchive(cmd.Context(), args[0], folio.WithImagesOnly(true))
		if err != nil {
			return err
		}
		defer release()

		chapters := archive.Chapters(chapter.CollapseRepeated())
		chapter.SortByName(chapters)

		out := cmd.OutOrStdout()
		for _, ch := range chapters {
			fmt.Fprintf(out, "%s\t%d pages\n", displayName(ch.Name), len(ch.Entries))
			if showPages {
				for _, e := range ch.Entries {
					fmt.Fprintf(out, "  %s\n", e.Name)
				}
			}
		}
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <archive|url> [names...]",
	Short: "Extract entries to a directory",
	Long: `Extract writes archive entries below the output directory, creating parent
directories as needed. With no names every entry is extracted. Existing files
are skipped unless --overwrite is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		archive, release, err := openArchive(ctx, args[0], folio.WithImagesOnly(imagesOnly))
		if err != nil {
			return err
		}
		defer release()

		var names []string
		if len(args) > 1 {
			names = args[1:]
		}
		total := archive.CountPending(outputDir, names, folio.CopyWithOverwrite(overwrite))

		bar := newProgress(total, !noProgress)
		opts := []folio.CopyOption{
			folio.CopyWithOverwrite(overwrite),
			folio.CopyWithWorkers(cfg.Concurrency),
			folio.CopyWithProgress(func(entry *folio.Entry, _ int) {
				bar.Increment(entry.Name)
			}),
		}

		start := time.Now()
		if names != nil {
			err = archive.CopyTo(ctx, outputDir, names, opts...)
		} else {
			err = archive.CopyAll(ctx, outputDir, opts...)
		}
		bar.Finish()
		if err != nil {
			return fmt.Errorf("extract %s: %w", args[0], err)
		}

		slog.Info("Extraction complete",
			"entries", total,
			"output", outputDir,
			"duration", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func displayName(name string) string {
	if name == "" {
		return strconv.Quote(name)
	}
	return name
}

func init() {
	entriesCmd.Flags().BoolVar(&imagesOnly, "images", false, "only list page images")

	chaptersCmd.Flags().BoolVarP(&showPages, "pages", "p", false, "list the pages of each chapter")

	extractCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "output directory")
	extractCmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite existing files")
	extractCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress bar")
	extractCmd.Flags().BoolVar(&imagesOnly, "images", false, "only extract page images")
}
