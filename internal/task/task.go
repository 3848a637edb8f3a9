// File: internal/task/task.go
// Package task resolves the on-disk layout of a recorded session. Each task
// lives under <data-dir>/task_<n>/ and carries the event log, the notebook,
// the narration files and the screenshots for that session.
package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoNotebook indicates a task directory without a source notebook.
var ErrNoNotebook = errors.New("no notebook found in task directory")

// Well-known file names inside a task directory.
const (
	EventsFileName             = "events.json"
	NarrationFileName          = "observation_thought.json"
	ValidatedNarrationFileName = "validated_observation_thought.json"
	ReportFileName             = "validation_report.json"
	CommandsFileName           = "pg_commands.txt"
	ScreenshotsDirName         = "screenshots"
)

// Task is a resolved task directory.
type Task struct {
	ID  string
	Dir string

	logger *zap.Logger
}

// Open resolves a task directory. The directory must exist; individual files
// inside it are resolved lazily since not every command needs all of them.
func Open(dir string, logger *zap.Logger) (*Task, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("task directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("task path %s is not a directory", dir)
	}
	return &Task{
		ID:     filepath.Base(dir),
		Dir:    dir,
		logger: logger.Named("task"),
	}, nil
}

// Discover lists the task directories under dataDir, sorted by name. Only
// entries matching the task_<n> convention are returned.
func Discover(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory %s: %w", dataDir, err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "task_") {
			dirs = append(dirs, filepath.Join(dataDir, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// EventsPath returns the path of the event log.
func (t *Task) EventsPath() string {
	return filepath.Join(t.Dir, EventsFileName)
}

// NarrationPath returns the path of the raw narration map.
func (t *Task) NarrationPath() string {
	return filepath.Join(t.Dir, NarrationFileName)
}

// ValidatedNarrationPath returns the path the validated narration is written
// to.
func (t *Task) ValidatedNarrationPath() string {
	return filepath.Join(t.Dir, ValidatedNarrationFileName)
}

// ReportPath returns the path of the validation run report.
func (t *Task) ReportPath() string {
	return filepath.Join(t.Dir, ReportFileName)
}

// CommandsPath returns the path of the generated command script.
func (t *Task) CommandsPath() string {
	return filepath.Join(t.Dir, CommandsFileName)
}

// ScreenshotsDir returns the directory the screenshots are downloaded to.
func (t *Task) ScreenshotsDir() string {
	return filepath.Join(t.Dir, ScreenshotsDirName)
}

// ScreenshotPath returns the expected path of step n's screenshot.
func (t *Task) ScreenshotPath(stepNumber int) string {
	return filepath.Join(t.ScreenshotsDir(), fmt.Sprintf("%d.png", stepNumber))
}

// NotebookPath locates the task's notebook. When several .ipynb files are
// present the first in sorted order wins and a warning is logged; already
// reconciled *_updated.ipynb outputs are never picked.
func (t *Task) NotebookPath() (string, error) {
	matches, err := filepath.Glob(filepath.Join(t.Dir, "*.ipynb"))
	if err != nil {
		return "", fmt.Errorf("failed to scan %s for notebooks: %w", t.Dir, err)
	}

	var candidates []string
	for _, m := range matches {
		if strings.HasSuffix(m, "_updated.ipynb") {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoNotebook, t.Dir)
	}

	sort.Strings(candidates)
	if len(candidates) > 1 {
		t.logger.Warn("Multiple notebooks in task directory, using first",
			zap.String("task", t.ID),
			zap.String("chosen", filepath.Base(candidates[0])),
			zap.Int("candidates", len(candidates)))
	}
	return candidates[0], nil
}

// OutputNotebookPath derives the reconciled output path from the source
// notebook (<stem>_updated.ipynb).
func OutputNotebookPath(notebookPath string) string {
	stem := strings.TrimSuffix(notebookPath, filepath.Ext(notebookPath))
	return stem + "_updated.ipynb"
}

// LoadEvents reads and decodes the task's event log.
func (t *Task) LoadEvents() (*schemas.EventLog, error) {
	data, err := os.ReadFile(t.EventsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	var log schemas.EventLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to parse event log %s: %w", t.EventsPath(), err)
	}
	return &log, nil
}

// LoadNarration reads the narration map from path. A missing file is an
// error: running reconciliation or validation without a narration source is
// a structural failure, not an empty update.
func LoadNarration(path string) (schemas.NarrationMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read narration file: %w", err)
	}
	var m schemas.NarrationMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse narration file %s: %w", path, err)
	}
	return m, nil
}

// SaveNarration writes a narration map as indented JSON.
func SaveNarration(path string, m schemas.NarrationMap) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal narration map: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write narration file %s: %w", path, err)
	}
	return nil
}
