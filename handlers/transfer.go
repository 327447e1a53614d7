package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/urban-engineer/sved/config"
	"github.com/urban-engineer/sved/log"
)

// serveFile streams a file's bytes to the response without reading it
// fully into memory; Go's http server chunk-encodes the response
// automatically since no Content-Length is set.
func serveFile(w http.ResponseWriter, dir, name string) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	_, err = io.Copy(w, f)
	return err
}

func parseSizeHeader(r *http.Request) (int64, error) {
	raw := r.Header.Get("size")
	if raw == "" {
		return 0, fmt.Errorf("missing required 'size' header")
	}
	return strconv.ParseInt(raw, 10, 64)
}

// receiveUpload streams the request body to destPath (creating parent
// directories as needed) without buffering the whole body in memory,
// and returns the number of bytes actually written.
func receiveUpload(body io.Reader, destPath string, maxBytes int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(body, maxBytes+1))
	if err != nil {
		return n, fmt.Errorf("writing uploaded body: %w", err)
	}
	return n, nil
}

// quarantinePath moves outputDir/relPath to
// <output_root>/invalid/<relPath>, per spec §4.2's invalid-move
// semantics for any size-mismatched upload.
func quarantinePath(outputDir, relPath string) (string, error) {
	src := filepath.Join(outputDir, relPath)
	dst := filepath.Join(outputDir, config.InvalidDirName, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("creating quarantine directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("moving to quarantine: %w", err)
	}
	return dst, nil
}

// quarantine moves a size-mismatched compressed-artifact upload to
// <output_root>/invalid/<profile_name>/<source_name>.
func quarantine(outputDir, profileName, sourceName string) (string, error) {
	return quarantinePath(outputDir, filepath.Join(profileName, sourceName))
}

// quarantineReport moves a size-mismatched quality report to
// <output_root>/invalid/reports/<id>.json, the same invalid-move
// semantics the compressed-artifact path uses.
func quarantineReport(outputDir string, id int64) (string, error) {
	return quarantinePath(outputDir, filepath.Join("reports", fmt.Sprintf("%d.json", id)))
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (c *Collection) deleteSourceFile(taskID int64, dir, name string) {
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		log.LogError(fmt.Sprint(taskID), "auto-delete: cannot remove source file", err)
	}
}
