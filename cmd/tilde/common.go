package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ielab/tilde-go/models"
	"github.com/ielab/tilde-go/tokenizer"
)

// modelPaths resolves the artifact file locations inside the configured
// model directory.
type modelPaths struct {
	dir       string
	onnxPath  string
	tokPath   string
	vocabPath string
	ortLib    string
	maxLength int
}

func resolveModelPaths() (modelPaths, error) {
	dir := viper.GetString("model.dir")
	if dir == "" {
		return modelPaths{}, fmt.Errorf("model.dir is required (flag, config, or TILDE_MODEL_DIR)")
	}

	onnxFile := viper.GetString("model.onnx_file")
	if onnxFile == "" {
		onnxFile = "model.onnx"
	}
	maxLength := viper.GetInt("model.max_length")
	if maxLength == 0 {
		maxLength = 128
	}

	return modelPaths{
		dir:       dir,
		onnxPath:  filepath.Join(dir, onnxFile),
		tokPath:   filepath.Join(dir, "tokenizer.json"),
		vocabPath: filepath.Join(dir, "vocab.txt"),
		ortLib:    viper.GetString("model.ort_library"),
		maxLength: maxLength,
	}, nil
}

func loadBackbone(paths modelPaths) (*models.ONNXBackbone, error) {
	return models.NewONNXBackbone(models.ONNXBackboneConfig{
		ModelPath:   paths.onnxPath,
		LibraryPath: paths.ortLib,
	})
}

func loadTokenizer(paths modelPaths) (*tokenizer.BERTTokenizer, error) {
	return tokenizer.NewBERTTokenizer(paths.tokPath, paths.vocabPath, paths.maxLength)
}

// readTSV reads tab-separated lines from path ("-" means stdin), yielding
// the split fields per line. Empty lines are skipped.
func readTSV(path string, fn func(fields []string) error) error {
	var f *os.File
	if path == "-" {
		f = os.Stdin
	} else {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := fn(strings.Split(line, "\t")); err != nil {
			return err
		}
	}
	return scanner.Err()
}
