package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"ai-speech-intelligence-service/internal/llm"
)

// FakeCompleter answers completions from Reply and records every request.
type FakeCompleter struct {
	Reply func(req llm.Request) (string, error)

	mu       sync.Mutex
	requests []llm.Request
}

// ReplyWith returns a FakeCompleter that always answers with v as JSON.
func ReplyWith(v any) *FakeCompleter {
	b, _ := json.Marshal(v)
	return &FakeCompleter{Reply: func(llm.Request) (string, error) { return string(b), nil }}
}

func (f *FakeCompleter) CompleteJSON(ctx context.Context, req llm.Request, out any) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := f.Reply(req)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(content), out)
}

func (f *FakeCompleter) Model() string { return "fake-model" }

// Requests returns a copy of the recorded requests.
func (f *FakeCompleter) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}
