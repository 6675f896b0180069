// Package modelconfig resolves a kvestimate.Shape for a model by name,
// fetching the model's HuggingFace config.json; no bundled or local copy
// is consulted. Adapted from the teacher's
// cmd/hfconfig.go roofline-model fetch path (same HF API, same
// redirect/size/shape validation), repurposed here to feed the KV
// estimator's transformer dimensions instead of a vLLM roofline model.
package modelconfig

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/primerl/bridge/internal/kvestimate"
)

// validHFRepoPattern matches valid HuggingFace repo paths (e.g.
// "meta-llama/Llama-3.1-8B-Instruct"). Rejects URL-special characters
// that could alter URL semantics.
var validHFRepoPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+/[a-zA-Z0-9._-]+$`)

const (
	hfBaseURL        = "https://huggingface.co"
	hfConfigFile     = "config.json"
	httpTimeout      = 30 * time.Second
	maxResponseBytes = 10 << 20 // 10 MB; real config.json files are typically <100 KB
	defaultDTypeLen  = 2        // fp16/bf16
)

// hfConfig is the subset of HuggingFace config.json fields the KV
// estimator needs.
type hfConfig struct {
	NumHiddenLayers   int    `json:"num_hidden_layers"`
	HiddenSize        int    `json:"hidden_size"`
	NumAttentionHeads int    `json:"num_attention_heads"`
	TorchDtype        string `json:"torch_dtype"`
}

// FetchShape fetches hfRepo's config.json from HuggingFace and derives
// a kvestimate.Shape from it. Supports gated models via the HF_TOKEN
// env var.
func FetchShape(hfRepo string) (kvestimate.Shape, error) {
	cfg, err := fetchHFConfigFunc(hfRepo)
	if err != nil {
		return kvestimate.Shape{}, err
	}
	return shapeFromConfig(cfg), nil
}

func shapeFromConfig(cfg hfConfig) kvestimate.Shape {
	headDim := 0
	if cfg.NumAttentionHeads > 0 {
		headDim = cfg.HiddenSize / cfg.NumAttentionHeads
	}
	dtypeLen := defaultDTypeLen
	if strings.Contains(strings.ToLower(cfg.TorchDtype), "float32") {
		dtypeLen = 4
	}
	return kvestimate.Shape{
		Layers:   cfg.NumHiddenLayers,
		Heads:    cfg.NumAttentionHeads,
		HeadDim:  headDim,
		DTypeLen: dtypeLen,
	}
}

// fetchHFConfigFunc is the function used to fetch a config by repo
// name. A package-level variable so tests can point it at a local
// httptest server without hitting real HuggingFace.
var fetchHFConfigFunc = fetchHFConfig

func fetchHFConfig(hfRepo string) (hfConfig, error) {
	if !validHFRepoPattern.MatchString(hfRepo) {
		return hfConfig{}, fmt.Errorf("modelconfig: invalid HuggingFace repo name %q: must match org/model pattern", hfRepo)
	}
	url := fmt.Sprintf("%s/%s/resolve/main/%s", hfBaseURL, hfRepo, hfConfigFile)
	return fetchHFConfigFromURL(url)
}

// fetchHFConfigFromURL fetches and validates config.json from url.
// Extracted for testability (tests inject a local httptest server URL).
func fetchHFConfigFromURL(url string) (hfConfig, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return hfConfig{}, fmt.Errorf("modelconfig: create request: %w", err)
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{
		Timeout: httpTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("too many redirects (max 3)")
			}
			host := req.URL.Hostname()
			if host != "huggingface.co" && !strings.HasSuffix(host, ".huggingface.co") {
				return fmt.Errorf("redirect to non-HuggingFace host %q blocked", host)
			}
			if host != "huggingface.co" {
				req.Header.Del("Authorization")
			}
			return nil
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return hfConfig{}, fmt.Errorf("modelconfig: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return hfConfig{}, fmt.Errorf("modelconfig: not found on HuggingFace (HTTP 404): %s", url)
	case http.StatusUnauthorized:
		return hfConfig{}, fmt.Errorf("modelconfig: authentication required (HTTP 401); set HF_TOKEN: %s", url)
	default:
		return hfConfig{}, fmt.Errorf("modelconfig: unexpected HTTP %d from HuggingFace for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return hfConfig{}, fmt.Errorf("modelconfig: read response body: %w", err)
	}
	if int64(len(body)) > maxResponseBytes {
		return hfConfig{}, fmt.Errorf("modelconfig: response body exceeds %d bytes limit", maxResponseBytes)
	}
	if !json.Valid(body) {
		return hfConfig{}, fmt.Errorf("modelconfig: response from %s is not valid JSON", url)
	}

	var cfg hfConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return hfConfig{}, fmt.Errorf("modelconfig: decode config: %w", err)
	}
	if cfg.NumHiddenLayers == 0 && cfg.HiddenSize == 0 {
		return hfConfig{}, fmt.Errorf("modelconfig: response from %s lacks expected HuggingFace config fields "+
			"(num_hidden_layers, hidden_size)", url)
	}
	return cfg, nil
}
