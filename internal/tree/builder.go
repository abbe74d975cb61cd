// Package tree materializes artifact trees on disk, either from a full file
// list or by applying structured edit instructions to a copy of a base tree.
package tree

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
)

// File is one (path, content) pair from a generated file list. Paths are
// slash-separated and relative to the tree root.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Instruction types understood by Apply. Unknown types are skipped with a
// warning so newer generators don't break older engines.
const (
	TypeReplaceFile = "replace_file"
	TypeNewFile     = "new_file"
	TypeDeleteFile  = "delete_file"
	TypeLineEdit    = "line_diff"
)

// LineEdit replaces the 1-based lines StartLine through EndLine inclusive
// with Content. Empty Content deletes the range.
type LineEdit struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"new_content"`
}

// Instruction is one tagged edit directive against a working tree.
type Instruction struct {
	Type    string     `json:"type"`
	Path    string     `json:"path"`
	Content string     `json:"content,omitempty"`
	Diffs   []LineEdit `json:"diffs,omitempty"`
}

// Builder writes trees under attempt directories. ManifestName identifies the
// dependency manifest whose content gets the unwrap fix applied before write.
type Builder struct {
	ManifestName string
	Log          *slog.Logger
}

// NewBuilder returns a builder with the default manifest name.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{ManifestName: "requirements.txt", Log: log}
}

// Replace destroys target and recreates it from the file list. Building the
// same list twice yields byte-identical trees.
func (b *Builder) Replace(target string, files []File) error {
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("tree: clear %s: %w", target, err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("tree: create %s: %w", target, err)
	}
	for _, f := range files {
		if f.Path == "" {
			b.Log.Warn("file entry missing path, skipped")
			continue
		}
		if err := b.writeFile(target, f.Path, f.Content); err != nil {
			return err
		}
	}
	return nil
}

// Apply copies base into target (fresh copy, never a merge) and applies the
// instructions in input order. Line edits are the exception: within one file
// they apply in descending start-line order so earlier edits cannot shift the
// line numbers later edits reference.
func (b *Builder) Apply(base, target string, instructions []Instruction) error {
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("tree: clear %s: %w", target, err)
	}
	if info, err := os.Stat(base); err == nil && info.IsDir() {
		if err := copyTree(base, target); err != nil {
			return fmt.Errorf("tree: copy base %s: %w", base, err)
		}
	} else if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("tree: create %s: %w", target, err)
	}
	for _, ins := range instructions {
		if ins.Path == "" {
			b.Log.Warn("instruction missing path, skipped", "type", ins.Type)
			continue
		}
		path := filepath.Join(target, filepath.FromSlash(ins.Path))
		switch ins.Type {
		case TypeReplaceFile, TypeNewFile:
			if err := b.writeFile(target, ins.Path, ins.Content); err != nil {
				return err
			}
		case TypeDeleteFile:
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					b.Log.Warn("delete of missing file ignored", "path", ins.Path)
				} else {
					return fmt.Errorf("tree: delete %s: %w", ins.Path, err)
				}
			}
		case TypeLineEdit:
			if err := b.applyLineEdits(path, ins.Path, ins.Diffs); err != nil {
				return err
			}
		default:
			b.Log.Warn("unknown instruction type, skipped", "type", ins.Type, "path", ins.Path)
		}
	}
	return nil
}

func (b *Builder) writeFile(root, relPath, content string) error {
	content = b.sanitizeManifestContent(relPath, content)
	full := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("tree: create parent of %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("tree: write %s: %w", relPath, err)
	}
	return nil
}

// sanitizeManifestContent unwraps the dependency manifest when a generator
// wraps it in a {"content": "..."} object instead of emitting the raw text.
func (b *Builder) sanitizeManifestContent(relPath, content string) string {
	if filepath.Base(filepath.FromSlash(relPath)) != b.ManifestName {
		return content
	}
	var wrapper map[string]any
	if err := json.Unmarshal([]byte(content), &wrapper); err != nil {
		return content
	}
	inner, ok := wrapper["content"].(string)
	if !ok {
		return content
	}
	b.Log.Warn("unwrapped manifest content written as JSON object", "path", relPath)
	return inner
}

func (b *Builder) applyLineEdits(path, relPath string, edits []LineEdit) error {
	if len(edits) == 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("tree: read %s: %w", relPath, err)
		}
		// Line edits against a missing file create it from the
		// concatenated replacement content.
		b.Log.Warn("line edit targets missing file, creating it", "path", relPath)
		parts := make([]string, 0, len(edits))
		for _, e := range edits {
			parts = append(parts, e.Content)
		}
		return b.writeFile(filepath.Dir(path), filepath.Base(path), strings.Join(parts, "\n"))
	}

	// An empty file has zero lines, so any edit against it is out of range.
	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	}

	ordered := make([]LineEdit, len(edits))
	copy(ordered, edits)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartLine > ordered[j].StartLine
	})

	for _, e := range ordered {
		start := e.StartLine - 1
		end := e.EndLine
		if start < 0 || end > len(lines) || start >= end {
			b.Log.Warn("line edit range invalid, skipped",
				"path", relPath, "start", e.StartLine, "end", e.EndLine, "lines", len(lines))
			continue
		}
		var replacement []string
		if e.Content != "" {
			replacement = strings.Split(e.Content, "\n")
		}
		next := make([]string, 0, len(lines)-(end-start)+len(replacement))
		next = append(next, lines[:start]...)
		next = append(next, replacement...)
		next = append(next, lines[end:]...)
		lines = next
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("tree: write %s: %w", relPath, err)
	}
	return nil
}

// copyTree duplicates src into dst recursively. dst must not exist.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(out, 0o755)
		}
		return copyFile(path, out)
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
