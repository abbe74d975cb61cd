package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestCleanJSONResponseStripsFences(t *testing.T) {
	in := "```json\n{\"files\": []}\n```"
	require.Equal(t, `{"files": []}`, CleanJSONResponse(in))

	in = "```\n{\"a\": 1}\n```"
	require.Equal(t, `{"a": 1}`, CleanJSONResponse(in))

	// Plain responses pass through.
	require.Equal(t, `{"a": 1}`, CleanJSONResponse(`{"a": 1}`))
}

func TestCleanJSONResponseEscapesRawControlChars(t *testing.T) {
	// A raw newline inside the string literal but not between fields.
	in := "{\"content\": \"line1\nline2\",\n\"other\": 1}"
	cleaned := CleanJSONResponse(in)
	require.True(t, json.Valid([]byte(cleaned)), cleaned)

	var out struct {
		Content string `json:"content"`
		Other   int    `json:"other"`
	}
	require.NoError(t, json.Unmarshal([]byte(cleaned), &out))
	require.Equal(t, "line1\nline2", out.Content)

	// Already-escaped sequences are left untouched.
	require.Equal(t, `{"a": "x\ny"}`, CleanJSONResponse(`{"a": "x\ny"}`))
}

func TestDecodeGenerationShapeChecks(t *testing.T) {
	_, err := DecodeGeneration([]byte(`not json`), true)
	var shape *ShapeError
	require.ErrorAs(t, err, &shape)

	_, err = DecodeGeneration([]byte(`{"usage_guide": {}}`), true)
	require.ErrorAs(t, err, &shape)
	require.Contains(t, shape.Reason, "'files'")

	_, err = DecodeGeneration([]byte(`{"usage_guide": {}}`), false)
	require.ErrorAs(t, err, &shape)
	require.Contains(t, shape.Reason, "'modifications'")

	_, err = DecodeGeneration([]byte(`{"files": []}`), true)
	require.ErrorAs(t, err, &shape)
	require.Contains(t, shape.Reason, "'usage_guide'")

	out, err := DecodeGeneration([]byte(`{
		"files": [{"path": "main.py", "content": "x"}],
		"usage_guide": {"description": "run it", "command": "python main.py"},
		"tests_to_run": ["tests/"]
	}`), true)
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	require.Equal(t, "python main.py", out.UsageGuide.Command)
}

func TestDecodeReview(t *testing.T) {
	_, err := DecodeReview([]byte(`{"feedback": "looks odd"}`))
	var shape *ShapeError
	require.ErrorAs(t, err, &shape)

	v, err := DecodeReview([]byte(`{"approved": false, "feedback": "missing tests", "architecture_notes_to_add": "keep IO at the edges"}`))
	require.NoError(t, err)
	require.False(t, v.Approved)
	require.Equal(t, "keep IO at the edges", v.NotesToAdd)
}

// fakeModel scripts GenerateContent responses for the retry tests.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	resp := ""
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateRetriesRateLimits(t *testing.T) {
	model := &fakeModel{
		errs:      []error{errors.New("429 resource exhausted"), errors.New("rate limit hit"), nil},
		responses: []string{"", "", "finally"},
	}
	c := NewClientWithModel(model, 3, testLogger())
	var slept []time.Duration
	c.wait = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	out, err := c.Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "finally", out)
	require.Len(t, slept, 2)
	// Doubling base delay, jitter under a second.
	require.GreaterOrEqual(t, slept[0], 15*time.Second)
	require.Less(t, slept[0], 16*time.Second)
	require.GreaterOrEqual(t, slept[1], 30*time.Second)
}

func TestGenerateGivesUpAfterRetryCap(t *testing.T) {
	model := &fakeModel{errs: []error{
		errors.New("429"), errors.New("429"), errors.New("429"),
	}}
	c := NewClientWithModel(model, 3, testLogger())
	waits := 0
	c.wait = func(ctx context.Context, d time.Duration) error {
		waits++
		return nil
	}

	_, err := c.Generate(context.Background(), "p")
	require.ErrorContains(t, err, "after 3 rate-limited retries")
	require.Equal(t, 3, model.calls)
	// No pointless delay once the attempt budget is spent.
	require.Equal(t, 2, waits)
}

func TestGenerateFailsFastOnOtherErrors(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("invalid api key")}}
	c := NewClientWithModel(model, 3, testLogger())
	c.wait = func(ctx context.Context, d time.Duration) error {
		t.Fatal("must not back off on non-rate-limit errors")
		return nil
	}

	_, err := c.Generate(context.Background(), "p")
	require.ErrorContains(t, err, "invalid api key")
	require.Equal(t, 1, model.calls)
}

func TestGenerateStopsBackoffOnCancel(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("429"), errors.New("429")}}
	c := NewClientWithModel(model, 3, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The default wait returns as soon as the context is done, so this
	// finishes without sitting out the 15s base delay.
	start := time.Now()
	_, err := c.Generate(ctx, "p")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, model.calls)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestGenerateJSONFlagsUnparseableOutput(t *testing.T) {
	model := &fakeModel{responses: []string{"I cannot answer in JSON, sorry"}}
	c := NewClientWithModel(model, 3, testLogger())

	_, err := c.GenerateJSON(context.Background(), "p")
	var shape *ShapeError
	require.ErrorAs(t, err, &shape)

	model = &fakeModel{responses: []string{"```json\n{\"approved\": true}\n```"}}
	c = NewClientWithModel(model, 3, testLogger())
	raw, err := c.GenerateJSON(context.Background(), "p")
	require.NoError(t, err)
	require.JSONEq(t, `{"approved": true}`, string(raw))
}
