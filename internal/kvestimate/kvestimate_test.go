package kvestimate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKVBytesScalesWithInputs(t *testing.T) {
	shape := Shape{Layers: 40, Heads: 40, HeadDim: 128, DTypeLen: 2}
	base := KVBytes(shape, 100, 1)
	require.Positive(t, base)
	require.Equal(t, base*2, KVBytes(shape, 200, 1))
	require.Equal(t, base*2, KVBytes(shape, 100, 2))
}

func TestKVBytesZeroSeqLen(t *testing.T) {
	shape := Shape{Layers: 40, Heads: 40, HeadDim: 128, DTypeLen: 2}
	require.Equal(t, int64(0), KVBytes(shape, 0, 1))
}

func TestSeqLenMonotonicWithLength(t *testing.T) {
	short := SeqLen("hello world")
	long := SeqLen("hello world this is a much longer prompt with many more words in it")
	require.Greater(t, long, short)
	require.Positive(t, short)
}

func TestSeqLenEmptyPrompt(t *testing.T) {
	require.Equal(t, 0, SeqLen(""))
}
