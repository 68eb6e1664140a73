// Package llm streams text completions from a language model backend.
package llm

import "context"

// Request describes a completion prompt.
type Request struct {
	Prompt string
	System string
}

// Stream is a pull-based, finite sequence of incremental text deltas.
// Recv returns io.EOF when the model is done. Close cancels the stream;
// it is safe to call from any goroutine and more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Streamer defines a pluggable streaming LLM backend.
type Streamer interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
