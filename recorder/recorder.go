// Package recorder defines the contract the Recording Executor uses to
// drive the automated-browser recording of a single chunk, plus an HTTP
// reference client implementing it.
package recorder

import "context"

// SiteMetadata carries the context a Recorder needs to reach and
// understand the site it's recording against.
type SiteMetadata struct {
	SiteName string
	BaseURL  string
	AppURL   string
}

// Options configures a single Build call.
type Options struct {
	SiteName    string
	SystemPrompt string
	UserPrompt  string
	TaskID      string
}

// TokenUsage reports LLM token consumption for a Build call.
type TokenUsage struct {
	Input  int
	Output int
	Total  int
}

// Result is what a Recorder returns for a single chunk recording attempt.
type Result struct {
	Success        bool
	PartialResult  string
	SiteCapability string
	Turns          int
	Tokens         TokenUsage
	SavedPath      string
	Message        string
}

// Recorder drives one automated-browser recording session. Implementations
// must be safe to Close even if Build was never called or returned an
// error, and Build must respect ctx cancellation/deadline.
type Recorder interface {
	Build(ctx context.Context, startURL, scenarioName string, opts Options) (*Result, error)
	Close() error
}

// Factory returns the Recorder used for a single task. An implementation
// may build a fresh Recorder per call or hand out one shared, stateless
// instance (HTTPClient.Factory does the latter).
type Factory func() (Recorder, error)
