package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// stdlibModules are Python standard-library names generators routinely list
// as third-party dependencies. Installing them either fails or clobbers the
// real stdlib, so they are stripped from manifests before install.
var stdlibModules = map[string]bool{
	"argparse": true, "collections": true, "configparser": true,
	"datetime": true, "glob": true, "hashlib": true, "json": true,
	"logging": true, "math": true, "multiprocessing": true, "os": true,
	"pathlib": true, "random": true, "re": true, "shutil": true,
	"sqlite3": true, "subprocess": true, "sys": true, "tempfile": true,
	"threading": true, "time": true, "unittest": true, "uuid": true,
}

// Env is a per-run Python virtual environment rooted inside the workspace.
type Env struct {
	workspace string
	runner    Runner
	log       *slog.Logger

	// PythonBin creates the venv; defaults to "python3".
	PythonBin string
}

// NewEnv describes the environment without creating anything on disk.
func NewEnv(workspace string, r Runner, log *slog.Logger) *Env {
	if log == nil {
		log = slog.Default()
	}
	return &Env{workspace: workspace, runner: r, log: log, PythonBin: "python3"}
}

func (e *Env) venvDir() string { return filepath.Join(e.workspace, ".venv") }

// Python returns the interpreter inside the venv.
func (e *Env) Python() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(e.venvDir(), "Scripts", "python.exe")
	}
	return filepath.Join(e.venvDir(), "bin", "python")
}

// Setup creates the virtual environment, reusing one that already exists.
func (e *Env) Setup(ctx context.Context, timeout time.Duration) error {
	if _, err := os.Stat(filepath.Join(e.venvDir(), "pyvenv.cfg")); err == nil {
		e.log.Info("virtual environment already exists", "path", e.venvDir())
		return nil
	}
	res, err := e.runner.Run(ctx, []string{e.PythonBin, "-m", "venv", e.venvDir(), "--clear"}, e.workspace, timeout)
	if err != nil {
		return fmt.Errorf("runner: create venv: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("runner: create venv failed: %s", strings.TrimSpace(res.Stderr))
	}
	e.log.Info("virtual environment created", "path", e.venvDir())
	return nil
}

// Remove deletes the virtual environment.
func (e *Env) Remove() error {
	if err := os.RemoveAll(e.venvDir()); err != nil {
		return fmt.Errorf("runner: remove venv: %w", err)
	}
	return nil
}

// Install sanitizes the manifest at dir/manifest and pip-installs it into
// the environment. An empty (or emptied) manifest skips the install.
func (e *Env) Install(ctx context.Context, dir, manifest string, timeout time.Duration) (Result, error) {
	path := filepath.Join(dir, manifest)
	removed, err := SanitizeManifest(path)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	if removed > 0 {
		e.log.Warn("stripped standard-library modules from manifest", "manifest", manifest, "removed", removed)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		e.log.Info("manifest empty after sanitizing, install skipped", "manifest", manifest)
		return Result{}, nil
	}
	return e.runner.Run(ctx, []string{e.Python(), "-m", "pip", "install", "-r", path}, dir, timeout)
}

// RunTests executes pytest against the given targets inside dir.
func (e *Env) RunTests(ctx context.Context, dir string, targets []string, timeout time.Duration) (Result, error) {
	for _, target := range targets {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(target))); err != nil {
			return Result{
				ExitCode: -1,
				Stderr:   fmt.Sprintf("declared test target %q does not exist in the generated tree", target),
			}, nil
		}
	}
	argv := append([]string{e.Python(), "-m", "pytest"}, targets...)
	return e.runner.Run(ctx, argv, dir, timeout)
}

// SanitizeManifest removes standard-library module lines from the manifest
// and reports how many were dropped. A missing manifest is a no-op.
func SanitizeManifest(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("runner: read manifest %s: %w", path, err)
	}
	lines := strings.Split(string(data), "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if stdlibModules[requirementName(trimmed)] {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		return 0, nil
	}
	body := strings.Join(kept, "\n")
	if body != "" {
		body += "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return removed, fmt.Errorf("runner: rewrite manifest %s: %w", path, err)
	}
	return removed, nil
}

// requirementName extracts the bare package name from a requirement line,
// dropping version pins, extras, and trailing comments.
func requirementName(line string) string {
	name := strings.ToLower(line)
	for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<", "[", ";", "#", " "} {
		if i := strings.Index(name, sep); i >= 0 {
			name = name[:i]
		}
	}
	return strings.TrimSpace(name)
}
