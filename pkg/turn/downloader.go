package turn

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/auricle-ai/auricle-go/pkg/turn/internal"
)

// Downloader fetches turn-detector model files from the model hub.
type Downloader struct {
	modelPath string
	client    *http.Client
}

// NewDownloader creates a downloader storing models under modelPath, or the
// default model directory when empty.
func NewDownloader(modelPath string) *Downloader {
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	return &Downloader{modelPath: modelPath, client: &http.Client{}}
}

// DownloadAll downloads every model in the catalog.
func (d *Downloader) DownloadAll() error {
	for _, model := range internal.AllModels {
		if err := d.DownloadModel(model); err != nil {
			return fmt.Errorf("turn: downloading model %s: %w", model.Name, err)
		}
	}
	return nil
}

// DownloadModel downloads one model's files, skipping files already present
// with a matching digest.
func (d *Downloader) DownloadModel(model internal.ModelInfo) error {
	modelDir := internal.ModelPath(d.modelPath, model.Revision)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	for _, filename := range model.Files {
		filePath := filepath.Join(modelDir, filename)
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return fmt.Errorf("creating directories for %s: %w", filename, err)
		}

		if d.isValidFile(filePath, filename) {
			slog.Debug("model file up to date", "file", filename)
			continue
		}

		slog.Info("downloading model file", "model", model.Name, "file", filename)
		if err := d.downloadFile(model, filename, filePath); err != nil {
			os.Remove(filePath)
			return fmt.Errorf("downloading %s: %w", filename, err)
		}
	}
	return nil
}

func (d *Downloader) downloadFile(model internal.ModelInfo, filename, destination string) error {
	url := fmt.Sprintf("https://huggingface.co/%s/resolve/%s/%s", model.Repo, model.Revision, filename)

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

func (d *Downloader) isValidFile(filePath, filename string) bool {
	info, err := os.Stat(filePath)
	if err != nil || info.Size() == 0 {
		return false
	}

	expected := internal.FileHashes[filename]
	if expected == "" {
		return true
	}

	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)) == expected
}

// Status reports, per model name, whether all files are present and valid.
func (d *Downloader) Status() map[string]bool {
	status := make(map[string]bool)
	for _, model := range internal.AllModels {
		complete := true
		for _, filename := range model.Files {
			if !d.isValidFile(internal.ModelFilePath(d.modelPath, model.Revision, filename), filename) {
				complete = false
				break
			}
		}
		status[model.Name] = complete
	}
	return status
}
