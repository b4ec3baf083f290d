package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ielab/tilde-go/models"
	"github.com/ielab/tilde-go/trainer"
)

func newTrainCmd() *cobra.Command {
	var trainFile string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fine-tune the TILDEv2 token projection",
		Long: `Reads "query<TAB>positive<TAB>negative..." lines where each line is one
training group (positive document first), tokenizes them, and fine-tunes the
TILDEv2 projection layer with the listwise ranking loss. Hyperparameters come
from the train.* config section or TILDE_TRAIN_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolveModelPaths()
			if err != nil {
				return err
			}

			trainArgs := trainer.DefaultArgs()
			if err := viper.UnmarshalKey("train", &trainArgs); err != nil {
				return fmt.Errorf("failed to parse train config: %w", err)
			}
			if trainArgs.OutputDir == "" {
				return fmt.Errorf("train.output_dir is required")
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

			model, err := models.NewTILDEv2(models.TILDEv2Config{
				Backbone:       backbone,
				TrainGroupSize: trainArgs.TrainGroupSize,
				ModelDir:       paths.dir,
			})
			if err != nil {
				return err
			}

			var dataset []trainer.Example
			err = readTSV(trainFile, func(fields []string) error {
				if len(fields) != 1+model.TrainGroupSize() {
					return fmt.Errorf("expected query plus %d documents, got %d fields",
						model.TrainGroupSize(), len(fields))
				}

				qIDs, qTypes, qMask, err := tok.Encode(fields[0])
				if err != nil {
					return err
				}
				dIDs, dTypes, dMasks, err := tok.EncodeBatch(fields[1:])
				if err != nil {
					return err
				}

				dataset = append(dataset, trainer.Example{
					QueryInputIDs:      qIDs,
					QueryTokenTypeIDs:  qTypes,
					QueryAttentionMask: qMask,
					DocInputIDs:        dIDs,
					DocTokenTypeIDs:    dTypes,
					DocAttentionMask:   dMasks,
				})
				return nil
			})
			if err != nil {
				return err
			}
			slog.Info("loaded training data", "groups", len(dataset), "group_size", model.TrainGroupSize())

			tr := trainer.New(trainArgs, model, dataset)
			tr.TokenizerDir = paths.dir
			return tr.Train()
		},
	}

	cmd.Flags().StringVar(&trainFile, "train-file", "", "training groups TSV file")
	_ = cmd.MarkFlagRequired("train-file")

	return cmd
}
