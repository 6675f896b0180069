// Package primerlpb defines the wire messages and service descriptor for
// the episode lifecycle RPC surface (spec.md §6.1). No .proto is
// compiled here: the task environment forbids running protoc alongside
// every other Go toolchain invocation, so the generated-code shape
// below is hand-authored to match what protoc-gen-go / protoc-gen-go-grpc
// would have produced, grounded on
// Generativebots-ocx-backend-go-svc/pb/mock.go's same hand-rolled-pb
// convention (plain structs + grpc.ClientConn/grpc.ServerStream, no
// protobuf runtime dependency beyond the wire codec).
package primerlpb

// StartEpisodeRequest is StartEpisode's request message.
type StartEpisodeRequest struct {
	EnvId      string `json:"env_id"`
	Model      string `json:"model"`
	Prompt     string `json:"prompt,omitempty"`
	PromptFp   []byte `json:"prompt_fp,omitempty"`
	PinPrefill bool   `json:"pin_prefill,omitempty"`
}

// StartEpisodeResponse is StartEpisode's response message.
type StartEpisodeResponse struct {
	SessionId string `json:"session_id"`
	CacheHit  bool   `json:"cache_hit"`
}

// StepRequest is Step's request message, one per decode round.
type StepRequest struct {
	SessionId   string           `json:"session_id"`
	Obs         string           `json:"obs,omitempty"`
	MaxNew      int32            `json:"max_new"`
	Grammar     string           `json:"grammar,omitempty"`
	Speculative bool             `json:"speculative,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
}

// StepResponse is one streamed token of Step's response, matching
// spec.md §6.1's per-token wire shape exactly: "token, t_us, kv_bytes,
// boundary, accepted". The server sends one of these per decoded token
// rather than aggregating a whole decode round into a single message.
type StepResponse struct {
	Token    string `json:"token"`
	TUs      int64  `json:"t_us"`
	KVBytes  int64  `json:"kv_bytes"`
	Boundary bool   `json:"boundary"`
	Accepted bool   `json:"accepted"`
}

// EndEpisodeRequest is EndEpisode's request message.
type EndEpisodeRequest struct {
	SessionId  string         `json:"session_id"`
	PolicyMeta map[string]any `json:"policy_meta,omitempty"`
}

// EndEpisodeResponse is EndEpisode's response message. Empty, matching
// the original's fire-and-forget `EndEpisodeResponse()` with no fields.
type EndEpisodeResponse struct{}
