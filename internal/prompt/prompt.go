// Package prompt loads and renders the prompt templates the engine sends to
// its generative collaborators. Templates are plain text files that may pull
// in shared fragments with {{include 'key'}} and expose {name} placeholders.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var includePattern = regexp.MustCompile(`\{\{include\s+'([^']+)'\}\}`)

// Library resolves template keys against a directory of .txt files.
type Library struct {
	dir string
}

// NewLibrary validates the template directory and returns a library.
func NewLibrary(dir string) (*Library, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("prompt: template directory %s is not usable", dir)
	}
	return &Library{dir: dir}, nil
}

// Render loads the template for key, resolves nested includes, and
// substitutes {name} placeholders from vars. A placeholder without a
// matching var is an error: it means the template and the caller disagree.
func (l *Library) Render(key string, vars map[string]string) (string, error) {
	content, err := l.resolve(key, map[string]bool{key: true})
	if err != nil {
		return "", err
	}
	// Check placeholders before substitution so values containing braces
	// can't trigger false mismatch errors.
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if _, ok := vars[m[1]]; !ok {
			return "", fmt.Errorf("prompt: template %s references {%s} but no value was provided", key, m[1])
		}
	}
	for name, value := range vars {
		content = strings.ReplaceAll(content, "{"+name+"}", value)
	}
	return content, nil
}

func (l *Library) resolve(key string, seen map[string]bool) (string, error) {
	content, err := l.load(key)
	if err != nil {
		return "", err
	}
	var resolveErr error
	resolved := includePattern.ReplaceAllStringFunc(content, func(match string) string {
		if resolveErr != nil {
			return match
		}
		included := includePattern.FindStringSubmatch(match)[1]
		if seen[included] {
			resolveErr = fmt.Errorf("prompt: include cycle through %q", included)
			return match
		}
		nested := make(map[string]bool, len(seen)+1)
		for k := range seen {
			nested[k] = true
		}
		nested[included] = true
		body, err := l.resolve(included, nested)
		if err != nil {
			resolveErr = err
			return match
		}
		return body
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return resolved, nil
}

func (l *Library) load(key string) (string, error) {
	path := filepath.Join(l.dir, key+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt: load template %s: %w", key, err)
	}
	return string(data), nil
}

var placeholderPattern = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)
