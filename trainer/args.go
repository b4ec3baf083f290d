package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ArgsFileName is the hyperparameter snapshot written next to the model
// weights in every checkpoint, named distinctly so loaders never confuse it
// with a weight file.
const ArgsFileName = "training_args.json"

// Args holds the training hyperparameters.
type Args struct {
	OutputDir      string  `json:"output_dir" mapstructure:"output_dir"`
	LearningRate   float64 `json:"learning_rate" mapstructure:"learning_rate"`
	WarmupRatio    float64 `json:"warmup_ratio" mapstructure:"warmup_ratio"`
	WarmupSteps    int     `json:"warmup_steps" mapstructure:"warmup_steps"`
	NumEpochs      int     `json:"num_epochs" mapstructure:"num_epochs"`
	BatchSize      int     `json:"train_batch_size" mapstructure:"train_batch_size"`
	TrainGroupSize int     `json:"train_group_size" mapstructure:"train_group_size"`
	SaveSteps      int     `json:"save_steps" mapstructure:"save_steps"`
	LogSteps       int     `json:"log_steps" mapstructure:"log_steps"`
	// ProcessRank and WorldSize describe this worker's place in a
	// data-parallel run; replication itself happens outside the trainer.
	ProcessRank int `json:"process_rank" mapstructure:"process_rank"`
	WorldSize   int `json:"world_size" mapstructure:"world_size"`
	// CacheDir is the resource root for pretrained artifacts, passed
	// explicitly instead of living in process-wide state.
	CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
}

// DefaultArgs returns the standard hyperparameters for fine-tuning.
func DefaultArgs() Args {
	return Args{
		LearningRate:   2e-5,
		NumEpochs:      1,
		BatchSize:      8,
		TrainGroupSize: 8,
		LogSteps:       100,
		WorldSize:      1,
	}
}

// IsWorldProcessZero reports whether this worker is the designated
// checkpoint writer.
func (a Args) IsWorldProcessZero() bool {
	return a.ProcessRank == 0
}

// Save writes the hyperparameter snapshot into dir.
func (a Args) Save(dir string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("trainer: failed to encode args: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ArgsFileName), data, 0o644); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	return nil
}

// LoadArgs reads a hyperparameter snapshot from dir.
func LoadArgs(dir string) (Args, error) {
	data, err := os.ReadFile(filepath.Join(dir, ArgsFileName))
	if err != nil {
		return Args{}, fmt.Errorf("trainer: %w", err)
	}
	var a Args
	if err := json.Unmarshal(data, &a); err != nil {
		return Args{}, fmt.Errorf("trainer: failed to decode args: %w", err)
	}
	return a, nil
}
