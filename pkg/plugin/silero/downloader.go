package silero

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

const modelURL = "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx"

// ModelDownloader fetches the Silero VAD model file.
type ModelDownloader struct {
	modelPath string
	client    *http.Client
}

// NewDownloader creates a downloader storing the model under modelPath, or
// the default model directory when empty.
func NewDownloader(modelPath string) *ModelDownloader {
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	return &ModelDownloader{modelPath: modelPath, client: &http.Client{}}
}

// Download fetches the model unless it is already present.
func (d *ModelDownloader) Download() error {
	modelFile := filepath.Join(d.modelPath, ModelFileName)
	if info, err := os.Stat(modelFile); err == nil && info.Size() > 0 {
		slog.Debug("silero model up to date", "file", modelFile)
		return nil
	}

	if err := os.MkdirAll(d.modelPath, 0o755); err != nil {
		return fmt.Errorf("silero: creating model directory: %w", err)
	}

	slog.Info("downloading silero model", "file", modelFile)
	if err := d.downloadFile(modelURL, modelFile); err != nil {
		os.Remove(modelFile)
		return fmt.Errorf("silero: downloading model: %w", err)
	}
	return nil
}

func (d *ModelDownloader) downloadFile(url, destination string) error {
	resp, err := d.client.Get(url)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, resp.Status)
	}

	file, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
