// Package llm wraps the generative collaborator. The engine only ever sees
// the Generator interface plus typed decoders for the structured shapes it
// expects back; provider construction and response cleanup live here.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/autoforge-dev/autoforge/internal/tree"
)

// Generator produces text or structured output from a prompt. Calls may
// block for seconds and honor ctx cancellation.
type Generator interface {
	// Generate returns the raw text completion.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateJSON returns the completion parsed as a JSON object after
	// response cleanup. A completion that cannot be parsed yields a
	// *ShapeError, not a transport error.
	GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}

// ShapeError reports generator output that parsed or validated wrong. It is
// consumed as attempt feedback, never treated as fatal.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return "llm: malformed generator output: " + e.Reason
}

// UsageGuide tells a human how to exercise the generated tree.
type UsageGuide struct {
	Description string `json:"description"`
	Command     string `json:"command"`
}

// GenerationOutput is the structured payload for both task kinds. Fresh
// generation fills Files; modification fills Modifications.
type GenerationOutput struct {
	Files          []tree.File        `json:"files,omitempty"`
	Modifications  []tree.Instruction `json:"modifications,omitempty"`
	UsageGuide     *UsageGuide        `json:"usage_guide"`
	DependencyFile string             `json:"dependency_file,omitempty"`
	TestsToRun     []string           `json:"tests_to_run,omitempty"`
	MainExecutable string             `json:"main_executable,omitempty"`
}

// DecodeGeneration parses raw generator output and checks the fields
// required for the task kind: a file list for fresh generation, an
// instruction list for modification, and a usage guide in both cases.
func DecodeGeneration(raw json.RawMessage, wantFiles bool) (*GenerationOutput, error) {
	var out GenerationOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ShapeError{Reason: fmt.Sprintf("response is not a valid JSON object: %v", err)}
	}
	if wantFiles && out.Files == nil {
		return nil, &ShapeError{Reason: "response is missing the 'files' list"}
	}
	if !wantFiles && out.Modifications == nil {
		return nil, &ShapeError{Reason: "response is missing the 'modifications' list"}
	}
	if out.UsageGuide == nil {
		return nil, &ShapeError{Reason: "response is missing the 'usage_guide' object"}
	}
	return &out, nil
}

// ReviewVerdict is the structural reviewer's answer.
type ReviewVerdict struct {
	Approved   bool   `json:"approved"`
	Feedback   string `json:"feedback"`
	NotesToAdd string `json:"architecture_notes_to_add,omitempty"`
}

// DecodeReview parses a reviewer response. A response without the approved
// field is a shape violation the reviewer must correct.
func DecodeReview(raw json.RawMessage) (*ReviewVerdict, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ShapeError{Reason: fmt.Sprintf("review response is not a valid JSON object: %v", err)}
	}
	if _, ok := probe["approved"]; !ok {
		return nil, &ShapeError{Reason: "review response is missing the 'approved' field"}
	}
	var v ReviewVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ShapeError{Reason: fmt.Sprintf("review response fields have wrong types: %v", err)}
	}
	return &v, nil
}
