package trainer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ielab/tilde-go/models"
)

// stubBackbone derives hidden states from token ids alone, so training
// behavior is fully deterministic.
type stubBackbone struct{}

func (stubBackbone) Forward(inputIDs, tokenTypeIDs, attentionMask [][]int64) ([][][]float32, error) {
	out := make([][][]float32, len(inputIDs))
	for i, row := range inputIDs {
		out[i] = make([][]float32, len(row))
		for j, id := range row {
			out[i][j] = []float32{0.1*float32(id) + 0.3, 0.7}
		}
	}
	return out, nil
}

func (stubBackbone) OutputDim() int { return 2 }

func newTrainableModel(t *testing.T, groupSize int) *models.TILDEv2 {
	t.Helper()
	model, err := models.NewTILDEv2(models.TILDEv2Config{
		Backbone:       stubBackbone{},
		TrainGroupSize: groupSize,
		Projection: &models.TokenProjection{
			Weight: []float32{0.4, 0.3},
			Bias:   []float32{0.1},
		},
	})
	require.NoError(t, err)
	return model
}

// makeExample builds a training example whose positive document shares the
// query term and whose negatives carry the given distinct ids.
func makeExample(term int64, negatives ...int64) Example {
	docIDs := [][]int64{{2, term, 3}}
	for _, neg := range negatives {
		docIDs = append(docIDs, []int64{2, neg, 3})
	}

	masks := make([][]int64, len(docIDs))
	types := make([][]int64, len(docIDs))
	for i := range docIDs {
		masks[i] = []int64{1, 1, 1}
		types[i] = []int64{0, 0, 0}
	}

	return Example{
		QueryInputIDs:      []int64{2, term, 3},
		QueryTokenTypeIDs:  []int64{0, 0, 0},
		QueryAttentionMask: []int64{1, 1, 1},
		DocInputIDs:        docIDs,
		DocTokenTypeIDs:    types,
		DocAttentionMask:   masks,
	}
}

func TestTrainLoaderRequiresDataset(t *testing.T) {
	tr := New(DefaultArgs(), newTrainableModel(t, 2), nil)
	_, err := tr.TrainLoader()
	assert.ErrorIs(t, err, ErrNoDataset)
}

func TestTrainLoaderDropsPartialBatch(t *testing.T) {
	args := DefaultArgs()
	args.BatchSize = 2

	dataset := []Example{
		makeExample(100, 200),
		makeExample(101, 201),
		makeExample(102, 202), // trailing odd example is dropped
	}
	tr := New(args, newTrainableModel(t, 2), dataset)

	batches, err := tr.TrainLoader()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestTrainLoaderUsesHookIterator(t *testing.T) {
	args := DefaultArgs()
	args.BatchSize = 1

	tr := New(args, newTrainableModel(t, 2), nil)
	tr.Hooks = &recordingHooks{
		DefaultHooks: DefaultHooks{Args: args},
		examples:     []Example{makeExample(100, 200)},
	}

	batches, err := tr.TrainLoader()
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestCollateGroupLayout(t *testing.T) {
	batch := Collate([]Example{
		makeExample(100, 200),
		makeExample(101, 201),
	})

	qry := batch["query_input"]
	require.Len(t, qry["input_ids"], 2)
	assert.Equal(t, int64(100), qry["input_ids"][0][1])
	assert.Equal(t, int64(101), qry["input_ids"][1][1])

	// Document rows concatenated group by group: query i's group occupies
	// rows [i*groupSize, (i+1)*groupSize).
	doc := batch["doc_input"]
	require.Len(t, doc["input_ids"], 4)
	assert.Equal(t, int64(100), doc["input_ids"][0][1]) // positive of query 0
	assert.Equal(t, int64(200), doc["input_ids"][1][1])
	assert.Equal(t, int64(101), doc["input_ids"][2][1]) // positive of query 1
	assert.Equal(t, int64(201), doc["input_ids"][3][1])

	require.Len(t, doc["attention_mask"], 4)
	require.Len(t, doc["token_type_ids"], 4)
}

func TestPrepareInputsDeepCopies(t *testing.T) {
	batch := Collate([]Example{makeExample(100, 200)})
	prepared := PrepareInputs(batch)

	batch["doc_input"]["input_ids"][0][1] = 999
	assert.Equal(t, int64(100), prepared["doc_input"]["input_ids"][0][1])
}

func TestTrainReducesLoss(t *testing.T) {
	model := newTrainableModel(t, 2)
	dataset := []Example{
		makeExample(100, 200),
		makeExample(101, 201),
	}

	args := DefaultArgs()
	args.OutputDir = t.TempDir()
	args.BatchSize = 2
	args.TrainGroupSize = 2
	args.NumEpochs = 10
	args.LearningRate = 0.05
	args.LogSteps = 0
	args.WarmupRatio = 0.1

	batch := PrepareInputs(Collate(dataset))
	qry, doc := features(batch)
	before, _, err := model.Forward(qry, doc)
	require.NoError(t, err)

	tr := New(args, model, dataset)
	require.NoError(t, tr.Train())

	after, _, err := model.Forward(qry, doc)
	require.NoError(t, err)
	assert.Less(t, after, before, "training must reduce the ranking loss")
}

// recordingHooks captures lifecycle calls for assertions.
type recordingHooks struct {
	DefaultHooks
	examples  []Example
	savedDirs []string
}

func (h *recordingHooks) OnSave(dir string) error {
	h.savedDirs = append(h.savedDirs, dir)
	return nil
}

func (h *recordingHooks) ProvideTrainIterator() ([]Example, error) {
	return h.examples, nil
}

func TestSaveWritesCheckpoint(t *testing.T) {
	tokDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tokDir, "vocab.txt"), []byte("[PAD]\n"), 0o644))

	args := DefaultArgs()
	hooks := &recordingHooks{DefaultHooks: DefaultHooks{Args: args}}

	tr := New(args, newTrainableModel(t, 2), nil)
	tr.TokenizerDir = tokDir
	tr.Hooks = hooks

	out := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, tr.Save(out))

	for _, name := range []string{models.ProjectionFileName, ArgsFileName, "vocab.txt"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, "checkpoint must contain %s", name)
	}
	assert.Equal(t, []string{out}, hooks.savedDirs)
}

func TestSaveSkipsNonZeroRank(t *testing.T) {
	args := DefaultArgs()
	args.ProcessRank = 1
	args.WorldSize = 2

	tr := New(args, newTrainableModel(t, 2), nil)

	out := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, tr.Save(out))

	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "non-zero rank must not write a checkpoint")
}
