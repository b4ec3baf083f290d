package trainer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ielab/tilde-go/models"
	"github.com/ielab/tilde-go/utils"
)

// ErrNoDataset is returned when a train loader is requested without a
// configured dataset. Raised immediately, not deferred to first use.
var ErrNoDataset = errors.New("trainer: training requires a dataset")

// Example is one tokenized training example: a query and its candidate
// group of TrainGroupSize documents, with the positive document at slot 0.
type Example struct {
	QueryInputIDs      []int64
	QueryTokenTypeIDs  []int64
	QueryAttentionMask []int64

	DocInputIDs      [][]int64
	DocTokenTypeIDs  [][]int64
	DocAttentionMask [][]int64
}

// Batch is the nested batch contract consumed by the model: "query_input"
// and "doc_input" sub-maps, each exposing "input_ids", "attention_mask",
// and "token_type_ids". The document batch dimension equals
// TrainGroupSize x number of queries.
type Batch map[string]map[string][][]int64

// Trainer drives TILDEv2 fine-tuning of the token projection: batching,
// optimizer stepping, scheduled learning rate, and checkpoint persistence.
type Trainer struct {
	Args    Args
	Model   *models.TILDEv2
	Dataset []Example
	// TokenizerDir, when set, is copied into every checkpoint so saved
	// models are self-contained.
	TokenizerDir string
	// Hooks are the lifecycle extension points; nil means DefaultHooks.
	Hooks Hooks
}

// New creates a Trainer with default hooks.
func New(args Args, model *models.TILDEv2, dataset []Example) *Trainer {
	return &Trainer{
		Args:    args,
		Model:   model,
		Dataset: dataset,
	}
}

func (t *Trainer) hooks() Hooks {
	if t.Hooks != nil {
		return t.Hooks
	}
	return DefaultHooks{Args: t.Args}
}

// TrainLoader batches the dataset, dropping the trailing partial batch so
// every step sees full batch dimensions. It fails immediately when no
// dataset is configured.
func (t *Trainer) TrainLoader() ([][]Example, error) {
	examples, err := t.hooks().ProvideTrainIterator()
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	if examples == nil {
		examples = t.Dataset
	}
	if examples == nil {
		return nil, ErrNoDataset
	}
	return utils.Batchify(examples, t.Args.BatchSize, true), nil
}

// Collate packs a batch of examples into the nested batch contract. Document
// rows are concatenated group by group, so query i's group occupies rows
// [i*groupSize, (i+1)*groupSize).
func Collate(examples []Example) Batch {
	batch := Batch{
		"query_input": {
			"input_ids":      make([][]int64, 0, len(examples)),
			"token_type_ids": make([][]int64, 0, len(examples)),
			"attention_mask": make([][]int64, 0, len(examples)),
		},
		"doc_input": {
			"input_ids":      nil,
			"token_type_ids": nil,
			"attention_mask": nil,
		},
	}
	for _, ex := range examples {
		q := batch["query_input"]
		q["input_ids"] = append(q["input_ids"], ex.QueryInputIDs)
		q["token_type_ids"] = append(q["token_type_ids"], ex.QueryTokenTypeIDs)
		q["attention_mask"] = append(q["attention_mask"], ex.QueryAttentionMask)

		d := batch["doc_input"]
		d["input_ids"] = append(d["input_ids"], ex.DocInputIDs...)
		d["token_type_ids"] = append(d["token_type_ids"], ex.DocTokenTypeIDs...)
		d["attention_mask"] = append(d["attention_mask"], ex.DocAttentionMask...)
	}
	return batch
}

// PrepareInputs deep-copies every tensor in the batch's nested sub-maps,
// transferring ownership to the step so later mutation of the source batch
// cannot alias into it. This is the single-process analog of routing tensors
// to the active compute device.
func PrepareInputs(batch Batch) Batch {
	prepared := make(Batch, len(batch))
	for name, sub := range batch {
		preparedSub := make(map[string][][]int64, len(sub))
		for field, rows := range sub {
			copied := make([][]int64, len(rows))
			for i, row := range rows {
				copied[i] = make([]int64, len(row))
				copy(copied[i], row)
			}
			preparedSub[field] = copied
		}
		prepared[name] = preparedSub
	}
	return prepared
}

// features splits a batch into the model's query and document inputs.
func features(batch Batch) (qry, doc models.Features) {
	q := batch["query_input"]
	d := batch["doc_input"]
	qry = models.Features{
		InputIDs:      q["input_ids"],
		AttentionMask: q["attention_mask"],
		TokenTypeIDs:  q["token_type_ids"],
	}
	doc = models.Features{
		InputIDs:      d["input_ids"],
		AttentionMask: d["attention_mask"],
		TokenTypeIDs:  d["token_type_ids"],
	}
	return qry, doc
}

// Train runs the fine-tuning loop over the configured number of epochs.
func (t *Trainer) Train() error {
	batches, err := t.TrainLoader()
	if err != nil {
		return err
	}

	totalSteps := len(batches) * t.Args.NumEpochs
	schedule := t.hooks().ConfigureSchedule(totalSteps)
	opt := NewAdam(t.Model.Projection().Params(), t.Args.LearningRate)

	slog.Info("starting training",
		"total_steps", totalSteps,
		"warmup_steps", schedule.WarmupSteps,
		"batches_per_epoch", len(batches),
		"lr", t.Args.LearningRate)

	step := 0
	for epoch := 0; epoch < t.Args.NumEpochs; epoch++ {
		for _, examples := range batches {
			step++

			batch := PrepareInputs(Collate(examples))
			qry, doc := features(batch)

			loss, grad, err := t.Model.TrainingStep(qry, doc)
			if err != nil {
				return fmt.Errorf("trainer: step %d: %w", step, err)
			}
			opt.Step([][]float32{grad.Weight, {grad.Bias}}, schedule.LRScale(step))

			if t.Args.LogSteps > 0 && step%t.Args.LogSteps == 0 {
				slog.Info("train step", "step", step, "epoch", epoch, "loss", loss)
			}
			if t.Args.SaveSteps > 0 && step%t.Args.SaveSteps == 0 {
				if err := t.Save(t.Args.OutputDir); err != nil {
					return err
				}
			}
		}
	}

	return t.Save(t.Args.OutputDir)
}

// Save writes a full checkpoint to dir: model weights, tokenizer files, and
// the hyperparameter snapshot. Only the designated worker writes; all others
// return immediately.
func (t *Trainer) Save(dir string) error {
	if !t.Args.IsWorldProcessZero() {
		return nil
	}
	if dir == "" {
		dir = t.Args.OutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}

	if err := t.Model.Save(dir); err != nil {
		return err
	}
	if t.TokenizerDir != "" {
		if err := copyTree(t.TokenizerDir, dir); err != nil {
			return fmt.Errorf("trainer: %w", err)
		}
	}
	if err := t.Args.Save(dir); err != nil {
		return err
	}
	return t.hooks().OnSave(dir)
}

// copyTree copies the contents of src into dst recursively.
func copyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return err
			}
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyTreeFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyTreeFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
