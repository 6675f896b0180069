package modelconfig

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShapeFromConfigDerivesHeadDim(t *testing.T) {
	shape := shapeFromConfig(hfConfig{NumHiddenLayers: 32, HiddenSize: 4096, NumAttentionHeads: 32, TorchDtype: "bfloat16"})
	require.Equal(t, 32, shape.Layers)
	require.Equal(t, 32, shape.Heads)
	require.Equal(t, 128, shape.HeadDim)
	require.Equal(t, 2, shape.DTypeLen)
}

func TestShapeFromConfigFloat32UsesFourByteDtype(t *testing.T) {
	shape := shapeFromConfig(hfConfig{NumHiddenLayers: 1, HiddenSize: 8, NumAttentionHeads: 1, TorchDtype: "float32"})
	require.Equal(t, 4, shape.DTypeLen)
}

func TestFetchHFConfigFromURLParsesValidConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"num_hidden_layers": 40, "hidden_size": 5120, "num_attention_heads": 40, "torch_dtype": "bfloat16",
		})
	}))
	defer srv.Close()

	cfg, err := fetchHFConfigFromURL(srv.URL)
	require.NoError(t, err)
	require.Equal(t, 40, cfg.NumHiddenLayers)
	require.Equal(t, 5120, cfg.HiddenSize)
}

func TestFetchHFConfigFromURLRejectsNonConfigJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "not found"})
	}))
	defer srv.Close()

	_, err := fetchHFConfigFromURL(srv.URL)
	require.Error(t, err)
}

func TestFetchHFConfigFromURLPropagatesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fetchHFConfigFromURL(srv.URL)
	require.Error(t, err)
}

func TestFetchHFConfigRejectsInvalidRepoName(t *testing.T) {
	_, err := fetchHFConfig("not a valid repo?")
	require.Error(t, err)
}

func TestFetchShapeUsesInjectedFetchFunc(t *testing.T) {
	orig := fetchHFConfigFunc
	defer func() { fetchHFConfigFunc = orig }()
	fetchHFConfigFunc = func(hfRepo string) (hfConfig, error) {
		return hfConfig{NumHiddenLayers: 80, HiddenSize: 8192, NumAttentionHeads: 64, TorchDtype: "bfloat16"}, nil
	}

	shape, err := FetchShape("org/model")
	require.NoError(t, err)
	require.Equal(t, 80, shape.Layers)
	require.Equal(t, 64, shape.Heads)
	require.Equal(t, 128, shape.HeadDim)
}
