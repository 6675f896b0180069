// Package kvestimate computes KV cache byte estimates for a transformer
// shape and sequence/batch size, and a best-effort token-aware sequence
// length for prompts.
package kvestimate

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sirupsen/logrus"
)

// Shape groups the transformer dimensions the estimator needs. Callers
// build one at startup, from a model's HuggingFace config
// (modelconfig.FetchShape) or a fixed default.
type Shape struct {
	Layers   int
	Heads    int
	HeadDim  int
	DTypeLen int // bytes per element, e.g. 2 for fp16/bf16
}

// KVBytes estimates KV cache bytes for seqLen tokens and batch size batch
// under shape. Pure function, never suspends, matches spec.md §4.7 (C7).
func KVBytes(shape Shape, seqLen, batch int) int64 {
	perPos := int64(shape.Heads) * int64(shape.HeadDim) * 2 * int64(shape.DTypeLen)
	return int64(shape.Layers) * int64(seqLen) * perPos * int64(batch)
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func loadEncoding() {
	enc, encErr = tiktoken.GetEncoding("cl100k_base")
	if encErr != nil {
		logrus.WithError(encErr).Warn("kvestimate: tiktoken encoder unavailable, falling back to word-count sequence length")
	}
}

// SeqLen returns a best-effort token count for prompt. It prefers a real
// BPE tokenizer (cl100k_base via tiktoken-go) and falls back to a plain
// word count when the encoder cannot be loaded (no network/cache, as in
// the original Python's `len(prompt.split())`). Never fails — matching the
// best-effort posture every other collaborator in this bridge has.
func SeqLen(prompt string) int {
	encOnce.Do(loadEncoding)
	if encErr == nil && enc != nil {
		return len(enc.Encode(prompt, nil, nil))
	}
	return len(strings.Fields(prompt))
}
