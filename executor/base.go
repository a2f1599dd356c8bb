package executor

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"actionforge.dev/recorder"
	"actionforge.dev/store"
)

// baseExecutor implements the shared recording steps common to every
// chunk_type: validate input, build a Recorder, run it under a deadline,
// interpret its result, and always close it. Concrete executors only
// differ in the prompts they hand to the Recorder.
type baseExecutor struct {
	name         string
	chunkType    store.ChunkType
	newRecorder  recorder.Factory
	taskTimeout  time.Duration
	buildPrompts func(task *store.RecordingTask, chunk *store.ExpandedChunk) (systemPrompt, userPrompt string)
}

func (b *baseExecutor) Name() string               { return b.name }
func (b *baseExecutor) ChunkType() store.ChunkType { return b.chunkType }

func (b *baseExecutor) Execute(ctx context.Context, task *store.RecordingTask, chunk *store.ExpandedChunk) (*Result, error) {
	start := time.Now()
	result := &Result{StartTime: start, Metadata: make(map[string]interface{})}

	if task.ChunkID == "" {
		return failResult(result, "NO_CHUNK", "recording task has no chunk_id"), nil
	}

	rec, err := b.newRecorder()
	if err != nil {
		return failResult(result, "RECORDER_INIT", fmt.Sprintf("create recorder: %v", err)), nil
	}
	defer rec.Close()

	timeout := b.taskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	systemPrompt, userPrompt := b.buildPrompts(task, chunk)
	startURL := originOf(chunk.BaseURL)

	callResult, err := rec.Build(callCtx, startURL, string(b.chunkType), recorder.Options{
		SiteName:     chunk.Domain,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		TaskID:       task.TaskID,
	})

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	if err != nil {
		if callCtx.Err() != nil {
			return failResult(result, "TIMEOUT", fmt.Sprintf("recorder deadline exceeded: %v", err)), nil
		}
		return failResult(result, "RECORDER_ERROR", err.Error()), nil
	}

	if !callResult.Success {
		return failResult(result, "RECORDER_FAILURE", callResult.Message), nil
	}

	result.Success = true
	result.SiteCapability = callResult.SiteCapability
	result.PartialMessage = callResult.PartialResult
	result.Metadata["turns"] = callResult.Turns
	result.Metadata["tokens_total"] = callResult.Tokens.Total
	result.Metadata["saved_path"] = callResult.SavedPath
	return result, nil
}

func failResult(result *Result, code, message string) *Result {
	result.Success = false
	result.Error = &ExecutionError{Code: code, Message: message}
	if result.EndTime.IsZero() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}
	return result
}

// originOf returns the scheme+host of rawURL, the browser's navigation
// starting point for a recording session.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
