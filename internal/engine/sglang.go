package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SGLang adapts SGLang's stateful decode HTTP interface. Grounded on
// original_source/engines/sglang_adapter.py: POST /prefill then stream
// newline-delimited JSON tokens from POST /decode.
type SGLang struct {
	baseURL string
	client  *http.Client
}

// NewSGLang returns an adapter talking to an SGLang server at baseURL.
func NewSGLang(baseURL string) *SGLang {
	return &SGLang{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
}

type sglangPrefillResp struct {
	SessionID string `json:"session_id"`
	Tokens    int    `json:"tokens"`
}

// Prefill posts {model, prompt, grammar} to /prefill.
func (s *SGLang) Prefill(ctx context.Context, model, prompt, grammar string) (PrefillResult, error) {
	body, err := json.Marshal(map[string]any{"model": model, "prompt": prompt, "grammar": nullableString(grammar)})
	if err != nil {
		return PrefillResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/prefill", bytes.NewReader(body))
	if err != nil {
		return PrefillResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return PrefillResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return PrefillResult{}, fmt.Errorf("sglang prefill: unexpected status %d", resp.StatusCode)
	}

	var out sglangPrefillResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PrefillResult{}, err
	}
	return PrefillResult{SessionID: out.SessionID, Tokens: out.Tokens}, nil
}

type sglangToken struct {
	Token    string `json:"token"`
	TUs      int64  `json:"t_us"`
	KVBytes  int64  `json:"kv_bytes"`
	Boundary bool   `json:"boundary"`
}

// ContinueDecode streams newline-delimited JSON tokens from POST /decode.
func (s *SGLang) ContinueDecode(ctx context.Context, req DecodeRequest) <-chan DecodeEvent {
	out := make(chan DecodeEvent)
	go func() {
		defer close(out)

		payload, err := json.Marshal(map[string]any{
			"session_id":     req.SessionID,
			"obs":            req.Obs,
			"max_new_tokens": req.MaxNew,
			"grammar":        nullableString(req.Grammar),
			"speculative":    req.Speculative,
		})
		if err != nil {
			out <- DecodeEvent{Err: err}
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/decode", bytes.NewReader(payload))
		if err != nil {
			out <- DecodeEvent{Err: err}
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(httpReq)
		if err != nil {
			out <- DecodeEvent{Err: err}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			out <- DecodeEvent{Err: fmt.Errorf("sglang decode: unexpected status %d", resp.StatusCode)}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			var tok sglangToken
			if err := json.Unmarshal([]byte(line), &tok); err != nil {
				out <- DecodeEvent{Err: err}
				return
			}
			event := DecodeEvent{Token: Token{Text: tok.Token, TUs: tok.TUs, KVBytes: tok.KVBytes, Boundary: tok.Boundary}}
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

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
