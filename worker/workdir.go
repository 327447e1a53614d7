package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urban-engineer/sved/log"
)

// ValidateWorkDir enforces that the worker's staging root does not
// sit inside the input media root (or vice versa), so cleanup of a
// task's work directory can never reach into source files still
// owned by the coordinator. Checked once at startup.
func ValidateWorkDir(workDir, inputDir string) error {
	work, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolving work dir: %w", err)
	}
	input, err := filepath.Abs(inputDir)
	if err != nil {
		return fmt.Errorf("resolving input dir: %w", err)
	}
	if work == input || strings.HasPrefix(work, input+string(filepath.Separator)) || strings.HasPrefix(input, work+string(filepath.Separator)) {
		return fmt.Errorf("work dir %q must not overlap input dir %q", work, input)
	}
	return nil
}

// stage creates and returns a fresh per-task directory under the
// worker's staging root.
func (a *Agent) stage(taskID int64) (string, error) {
	dir := filepath.Join(a.WorkDir, fmt.Sprintf("%d", taskID))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing stale work dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating work dir %s: %w", dir, err)
	}
	return dir, nil
}

// cleanup recursively removes a task's work directory; failures are
// logged, not propagated, since by this point the task has already
// either succeeded or failed on its own terms.
func (a *Agent) cleanup(taskID string, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.LogError(taskID, "cannot remove work directory", err)
	}
}
