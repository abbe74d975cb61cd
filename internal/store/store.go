// Package store owns the on-disk run workspace: raw input, plan documents,
// per-attempt working trees, accepted snapshots, and the rolling latest
// accepted tree every modification task builds on.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autoforge-dev/autoforge/internal/tree"
)

// Workspace file and directory names. The layout is stable because humans
// dig through it after failed runs.
const (
	RawInputFile   = "user_raw_input.txt"
	DefinitionFile = "project_definition.json"
	PlanFile       = "task_plan.json"
	NotesFile      = "architecture_notes.md"
	RunLogFile     = "run.log"

	GeneratedDir = "generated_code"
	AcceptedDir  = "successful_steps"
	LatestDir    = "latest_accepted"

	AttemptOutputFile  = "generation_output.json"
	InstallLogFile     = "install_log.txt"
	TestLogFile        = "test_log.txt"
	ReviewFeedbackFile = "review_feedback.txt"
	HumanFeedbackFile  = "human_feedback.txt"
	SummaryFile        = "summary.json"
	ManifestFile       = "archive_manifest.txt"
)

// metadataFiles are store-owned files that must never leak into a tree
// snapshot handed back to the generator or reviewer.
var metadataFiles = map[string]bool{
	AttemptOutputFile:  true,
	InstallLogFile:     true,
	TestLogFile:        true,
	ReviewFeedbackFile: true,
	HumanFeedbackFile:  true,
	SummaryFile:        true,
}

// Workspace is the durable root for a single run. All snapshot trees under
// it are owned exclusively by this type.
type Workspace struct {
	root string
	name string
	log  *slog.Logger
	now  func() time.Time
}

// Option customizes a workspace during construction.
type Option func(*Workspace)

// WithClock overrides the clock used for note separators and manifests.
func WithClock(clock func() time.Time) Option {
	return func(w *Workspace) { w.now = clock }
}

// Init creates a fresh uniquely-named workspace under rootDir. A new run
// always starts a new workspace; nothing is resumed.
func Init(rootDir string, log *slog.Logger, opts ...Option) (*Workspace, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &Workspace{log: log, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	w.name = fmt.Sprintf("proj_%s_%s", w.now().Format("20060102150405"), uuid.NewString()[:8])
	w.root = filepath.Join(rootDir, w.name)

	for _, dir := range []string{w.root, filepath.Join(w.root, AcceptedDir), filepath.Join(w.root, LatestDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create workspace %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(w.NotesPath(), nil, 0o644); err != nil {
		return nil, fmt.Errorf("store: create notes file: %w", err)
	}
	log.Info("workspace initialized", "path", w.root)
	return w, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Name returns the unique run name.
func (w *Workspace) Name() string { return w.name }

// NotesPath returns the append-only architecture notes file.
func (w *Workspace) NotesPath() string { return filepath.Join(w.root, NotesFile) }

// LatestPath returns the rolling latest accepted tree directory.
func (w *Workspace) LatestPath() string { return filepath.Join(w.root, LatestDir) }

// RunLogPath returns the per-run log file.
func (w *Workspace) RunLogPath() string { return filepath.Join(w.root, RunLogFile) }

// SaveRawInput persists the user's original request verbatim.
func (w *Workspace) SaveRawInput(text string) error {
	return w.writeFile(RawInputFile, []byte(text))
}

// SaveDefinition persists the refined project definition document.
func (w *Workspace) SaveDefinition(doc json.RawMessage) error {
	return w.writeFile(DefinitionFile, doc)
}

// Definition loads the project definition, or nil when none was saved.
func (w *Workspace) Definition() json.RawMessage {
	data, err := os.ReadFile(filepath.Join(w.root, DefinitionFile))
	if err != nil {
		return nil
	}
	return data
}

// SavePlan persists the decomposed task plan document.
func (w *Workspace) SavePlan(doc json.RawMessage) error {
	return w.writeFile(PlanFile, doc)
}

func (w *Workspace) writeFile(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(w.root, name), data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	return nil
}

// AttemptDir creates (if needed) and returns the working directory for one
// attempt. Superseded attempts stay on disk for audit.
func (w *Workspace) AttemptDir(taskID, attempt int) (string, error) {
	dir := filepath.Join(w.root, GeneratedDir,
		fmt.Sprintf("task_%d_attempts", taskID),
		fmt.Sprintf("attempt_%d", attempt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create attempt dir: %w", err)
	}
	return dir, nil
}

// SaveAttemptOutput records the generator's raw structured output for an
// attempt before any tree is built from it.
func (w *Workspace) SaveAttemptOutput(taskID, attempt int, raw json.RawMessage) error {
	return w.saveAttemptFile(taskID, attempt, AttemptOutputFile, raw)
}

// SaveInstallLog records dependency-install output for an attempt.
func (w *Workspace) SaveInstallLog(taskID, attempt int, stdout, stderr string) error {
	body := fmt.Sprintf("--- STDOUT ---\n%s\n\n--- STDERR ---\n%s\n", stdout, stderr)
	return w.saveAttemptFile(taskID, attempt, InstallLogFile, []byte(body))
}

// SaveTestLog records automated test output for an attempt.
func (w *Workspace) SaveTestLog(taskID, attempt int, stdout, stderr string) error {
	body := fmt.Sprintf("--- STDOUT ---\n%s\n\n--- STDERR ---\n%s\n", stdout, stderr)
	return w.saveAttemptFile(taskID, attempt, TestLogFile, []byte(body))
}

// SaveReviewFeedback records the structural reviewer's verdict text.
func (w *Workspace) SaveReviewFeedback(taskID, attempt int, text string) error {
	return w.saveAttemptFile(taskID, attempt, ReviewFeedbackFile, []byte(text))
}

// SaveHumanFeedback records failure feedback typed in at the confirmation gate.
func (w *Workspace) SaveHumanFeedback(taskID, attempt int, text string) error {
	return w.saveAttemptFile(taskID, attempt, HumanFeedbackFile, []byte(text))
}

func (w *Workspace) saveAttemptFile(taskID, attempt int, name string, data []byte) error {
	dir, err := w.AttemptDir(taskID, attempt)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("store: write %s for task %d attempt %d: %w", name, taskID, attempt, err)
	}
	return nil
}

// AppendNotes appends to the shared architecture notes with a timestamped
// separator. Notes are never rewritten or truncated.
func (w *Workspace) AppendNotes(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	f, err := os.OpenFile(w.NotesPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open notes: %w", err)
	}
	defer f.Close()
	stamp := w.now().Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(f, "\n\n---\nnoted: %s\n---\n%s", stamp, text); err != nil {
		return fmt.Errorf("store: append notes: %w", err)
	}
	return nil
}

// Notes returns the accumulated architecture notes.
func (w *Workspace) Notes() string {
	data, err := os.ReadFile(w.NotesPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// Accept records attemptDir as the accepted snapshot for taskID and swaps it
// in as the latest accepted tree. The latest tree is staged next to its
// final location and swapped by rename, so a reader never sees a
// half-written mix of old and new content.
func (w *Workspace) Accept(taskID int, attemptDir string) error {
	snapshot := w.acceptedTaskDir(taskID)
	if err := os.RemoveAll(snapshot); err != nil {
		return fmt.Errorf("store: clear snapshot for task %d: %w", taskID, err)
	}
	if err := copyTree(attemptDir, snapshot, false); err != nil {
		return fmt.Errorf("store: snapshot task %d: %w", taskID, err)
	}

	staging := w.LatestPath() + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("store: clear staging: %w", err)
	}
	if err := copyTree(attemptDir, staging, false); err != nil {
		return fmt.Errorf("store: stage latest tree: %w", err)
	}
	if err := os.RemoveAll(w.LatestPath()); err != nil {
		return fmt.Errorf("store: drop old latest tree: %w", err)
	}
	if err := os.Rename(staging, w.LatestPath()); err != nil {
		return fmt.Errorf("store: swap latest tree: %w", err)
	}
	w.log.Info("accepted snapshot recorded", "task", taskID, "dir", snapshot)
	return nil
}

// AcceptedPath returns the accepted snapshot directory for taskID, or ""
// when the task has no snapshot.
func (w *Workspace) AcceptedPath(taskID int) string {
	dir := w.acceptedTaskDir(taskID)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}

func (w *Workspace) acceptedTaskDir(taskID int) string {
	return filepath.Join(w.root, AcceptedDir, fmt.Sprintf("task_%d", taskID))
}

// SaveSummary stores the structured summary for an accepted task.
func (w *Workspace) SaveSummary(taskID int, summary json.RawMessage) error {
	dir := w.acceptedTaskDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: ensure snapshot dir for task %d: %w", taskID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), summary, 0o644); err != nil {
		return fmt.Errorf("store: write summary for task %d: %w", taskID, err)
	}
	return nil
}

// Summary loads a task's summary, or nil when absent.
func (w *Workspace) Summary(taskID int) json.RawMessage {
	data, err := os.ReadFile(filepath.Join(w.acceptedTaskDir(taskID), SummaryFile))
	if err != nil {
		return nil
	}
	return data
}

// ReadTree converts a snapshot directory into the (path, content) list the
// generator and reviewer consume. Store metadata files are excluded.
func (w *Workspace) ReadTree(dir string) ([]tree.File, error) {
	var files []tree.File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || metadataFiles[d.Name()] {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			w.log.Warn("unreadable file skipped in tree read", "path", path, "error", readErr)
			return nil
		}
		files = append(files, tree.File{Path: filepath.ToSlash(rel), Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: read tree %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// WriteManifest records an archive manifest listing the run's key artifacts.
func (w *Workspace) WriteManifest() error {
	var b strings.Builder
	fmt.Fprintf(&b, "run: %s\narchived: %s\nworkspace: %s\n\nartifacts:\n",
		w.name, w.now().Format(time.RFC3339), w.root)
	for _, name := range []string{RawInputFile, DefinitionFile, PlanFile, NotesFile, GeneratedDir, AcceptedDir, LatestDir, RunLogFile} {
		path := filepath.Join(w.root, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		kind := "file"
		if info.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", name, kind)
	}
	return w.writeFile(ManifestFile, []byte(b.String()))
}

// copyTree duplicates src into dst. Attempt logs and other store metadata
// stay behind unless includeMetadata is set; they belong to the attempt
// directory, not to snapshots.
func copyTree(src, dst string, includeMetadata bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if !includeMetadata && metadataFiles[d.Name()] {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
