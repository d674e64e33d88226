// Package internal holds the turn-detector model catalog.
package internal

import "path/filepath"

// ModelInfo describes one downloadable model revision.
type ModelInfo struct {
	Name     string
	Repo     string
	Revision string
	Files    []string
}

var (
	EnglishModel = ModelInfo{
		Name:     "english",
		Repo:     "livekit/turn-detector",
		Revision: "v1.2.2-en",
		Files: []string{
			"onnx/model_q8.onnx",
			"tokenizer.json",
			"languages.json",
		},
	}

	MultilingualModel = ModelInfo{
		Name:     "multilingual",
		Repo:     "livekit/turn-detector",
		Revision: "v0.3.0-intl",
		Files: []string{
			"onnx/model_q8.onnx",
			"tokenizer.json",
			"languages.json",
		},
	}

	AllModels = []ModelInfo{EnglishModel, MultilingualModel}
)

// FileHashes maps known file paths to their SHA-256 digests. Files without
// an entry are accepted on existence alone.
var FileHashes = map[string]string{
	"onnx/model_q8.onnx": "fdd695a99bda01155fb0b5ce71d34cb9fd3902c62496db7a6c2c7bdeac310ac7",
	"tokenizer.json":     "c8219a662de786c94771323c3500377970f5eaa3afbeaef9390c9a51db9f7884",
	"languages.json":     "a9b71f62240293b05e6fa2b75ffc997ae00cefcc8da8b9567e39e3c356b7ee1",
}

// ModelPath returns the directory where a revision is stored.
func ModelPath(basePath, revision string) string {
	return filepath.Join(basePath, "turn-detector", revision)
}

// ModelFilePath returns the absolute path of one file within a revision.
func ModelFilePath(basePath, revision, filename string) string {
	return filepath.Join(ModelPath(basePath, revision), filename)
}
