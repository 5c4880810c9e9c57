// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/ingest"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

func newDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Manage the document knowledge base",
	}

	cmd.AddCommand(
		newDocumentsListCmd(),
		newDocumentsIndexCmd(),
	)

	return cmd
}

func newDocumentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexed documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app, err := WireApp(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			names, err := app.Index.DocumentNames(cmd.Context())
			if err != nil {
				return err
			}

			if len(names) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No documents indexed.")
				return err
			}
			for i, name := range names {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newDocumentsIndexCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Chunk, embed, and index documents",
		Long:  "Split each file into sectioned chunks, embed them, and store them in the vector index. By default the document name is the file name without extension.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && len(args) > 1 {
				return lawserr.New(lawserr.CodeCLIInputInvalid, "--name can only be used with a single file")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app, err := WireApp(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			for _, path := range args {
				documentName := name
				if documentName == "" {
					documentName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				}

				data, err := os.ReadFile(path)
				if err != nil {
					return lawserr.Wrapf(err, lawserr.CodeCLIInputInvalid, "reading %s", path)
				}

				chunks := ingest.SplitDocument(documentName, string(data))
				if len(chunks) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to index\n", path)
					continue
				}

				for i := range chunks {
					vector, err := app.Embedder.Embed(cmd.Context(), chunks[i].Text)
					if err != nil {
						return err
					}
					chunks[i].Vector = vector
				}

				if err := app.Index.Add(cmd.Context(), chunks); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: indexed %d chunks as %q\n", path, len(chunks), documentName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "document name to index under (default: file name without extension)")

	return cmd
}
