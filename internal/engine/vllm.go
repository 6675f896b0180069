package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// VLLM adapts an OpenAI-compatible vLLM /v1/completions endpoint, which
// exposes no dedicated prefill call or server-side session state. Grounded
// on original_source/engines/vllm_adapter.py.
type VLLM struct {
	baseURL string
	client  *http.Client
}

// NewVLLM returns an adapter talking to a vLLM server at baseURL.
func NewVLLM(baseURL string) *VLLM {
	return &VLLM{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
}

// Prefill synthesizes a session id locally; vLLM's OpenAI-compatible
// surface has no prefill-only call.
func (v *VLLM) Prefill(ctx context.Context, model, prompt, grammar string) (PrefillResult, error) {
	return PrefillResult{SessionID: uuid.NewString(), Tokens: 0}, nil
}

type vllmCompletionChunk struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ContinueDecode is stateless: it resubmits req.Prompt in full every call,
// since vLLM has no server-side session to continue (spec.md §6.2 note on
// stateless adapters).
func (v *VLLM) ContinueDecode(ctx context.Context, req DecodeRequest) <-chan DecodeEvent {
	out := make(chan DecodeEvent)
	go func() {
		defer close(out)

		if req.Prompt == "" {
			out <- DecodeEvent{Err: fmt.Errorf("vllm: prompt is required for continue_decode")}
			return
		}

		payload, err := json.Marshal(map[string]any{
			"model":       req.Model,
			"prompt":      req.Prompt,
			"max_tokens":  req.MaxNew,
			"stream":      true,
			"temperature": 0.0,
		})
		if err != nil {
			out <- DecodeEvent{Err: err}
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/completions", bytes.NewReader(payload))
		if err != nil {
			out <- DecodeEvent{Err: err}
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := v.client.Do(httpReq)
		if err != nil {
			out <- DecodeEvent{Err: err}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			out <- DecodeEvent{Err: fmt.Errorf("vllm completions: unexpected status %d", resp.StatusCode)}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var chunk vllmCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				out <- DecodeEvent{Err: err}
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Text == "" {
				continue
			}
			choice := chunk.Choices[0]
			event := DecodeEvent{Token: Token{
				Text:     choice.Text,
				KVBytes:  0,
				Boundary: choice.FinishReason != "",
			}}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- DecodeEvent{Err: err}
		}
	}()
	return out
}
