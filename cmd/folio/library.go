package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meigma/folio/library"
)

var pageOutput string

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Browse a library directory of titles",
	Long: `The library commands read titles below the library root (--library,
library_dir in the config file, or MANGA_DIR). A title is a .zip or .cbz
archive, or a directory of images with optional chapter subdirectories.`,
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List titles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, release, err := openLibrary()
		if err != nil {
			return err
		}
		defer release()

		items, err := lib.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tSLUG")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\n", item.Name, item.Kind, item.Slug)
		}
		return w.Flush()
	},
}

var libraryChaptersCmd = &cobra.Command{
	Use:   "chapters <title>",
	Short: "List the chapters of a title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, release, err := openLibrary()
		if err != nil {
			return err
		}
		defer release()

		chapters, err := lib.Chapters(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, ch := range chapters {
			fmt.Fprintf(out, "%s\t%d pages\n", displayName(ch.Name), ch.PageCount)
			if showPages {
				for _, p := range ch.Pages {
					fmt.Fprintf(out, "  %s\n", p)
				}
			}
		}
		return nil
	},
}

var libraryPageCmd = &cobra.Command{
	Use:   "page <title> <path>",
	Short: "Write one page image to a file or stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, release, err := openLibrary()
		if err != nil {
			return err
		}
		defer release()

		page, err := lib.Page(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		slog.Debug("Read page", "title", args[0], "page", args[1],
			"bytes", len(page.Data), "content_type", page.ContentType)

		if pageOutput == "" || pageOutput == "-" {
			_, err = cmd.OutOrStdout().Write(page.Data)
			return err
		}
		return os.WriteFile(pageOutput, page.Data, 0o644) //nolint:gosec // page images are not secret
	},
}

func openLibrary() (*library.Library, func(), error) {
	if cfg.LibraryDir == "" {
		return nil, nil, errors.New("no library directory configured (use --library, library_dir, or MANGA_DIR)")
	}
	cache, closeCache, err := newIndexCache()
	if err != nil {
		return nil, nil, err
	}
	lib, err := library.New(cfg.LibraryDir,
		library.WithIndexCache(cache),
		library.WithLogger(slog.Default()),
		library.WithMaxEntrySize(cfg.MaxEntrySize),
	)
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	return lib, closeCache, nil
}

func init() {
	libraryChaptersCmd.Flags().BoolVarP(&showPages, "pages", "p", false, "list the pages of each chapter")
	libraryPageCmd.Flags().StringVarP(&pageOutput, "output", "o", "", "output file (default stdout)")

	libraryCmd.AddCommand(libraryListCmd, libraryChaptersCmd, libraryPageCmd)
}
