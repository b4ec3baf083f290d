package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ielab/tilde-go/expand"
	"github.com/ielab/tilde-go/models"
)

func newExpandCmd() *cobra.Command {
	var input string
	var topK int
	var batchSize int
	var workers int

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand passages with top-scoring vocabulary terms",
		Long: `Reads "id<TAB>passage" lines and writes "id<TAB>term term ..." lines with
the top-k expansion terms predicted by the TILDE model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolveModelPaths()
			if err != nil {
				return err
			}

			backbone, err := loadBackbone(paths)
			if err != nil {
				return err
			}
			defer backbone.Close()

			tok, err := loadTokenizer(paths)
			if err != nil {
				return err
			}
			defer tok.Close()

			model, err := models.NewTILDE(models.TILDEConfig{
				Backbone: backbone,
				Vocab:    tok.Vocab(),
				ModelDir: paths.dir,
			})
			if err != nil {
				return err
			}

			expander := expand.NewExpander(model, tok, tok.Vocab(), batchSize, workers)

			var ids []string
			var passages []string
			err = readTSV(input, func(fields []string) error {
				if len(fields) < 2 {
					return fmt.Errorf("expected id<TAB>passage, got %d fields", len(fields))
				}
				ids = append(ids, fields[0])
				passages = append(passages, fields[1])
				return nil
			})
			if err != nil {
				return err
			}

			slog.Info("expanding passages", "count", len(passages), "k", topK)
			terms, err := expander.Expand(passages, topK)
			if err != nil {
				return err
			}

			for i, id := range ids {
				fmt.Fprintf(os.Stdout, "%s\t%s\n", id, strings.Join(terms[i], " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "-", "passages TSV file (id<TAB>text), - for stdin")
	cmd.Flags().IntVar(&topK, "k", 200, "number of expansion terms per passage")
	cmd.Flags().IntVar(&batchSize, "batch-size", 32, "scoring batch size")
	cmd.Flags().IntVar(&workers, "workers", 1, "parallel scoring workers")

	return cmd
}
