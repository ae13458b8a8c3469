package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(DefaultChains()...)
	require.NoError(t, err)

	assert.Equal(t, []string{"bsc", "polygon"}, r.Names())

	p, ok := r.Lookup("polygon")
	require.True(t, ok)
	assert.Equal(t, int32(6), p.Decimals)
	assert.Equal(t, DefaultGasLimit, p.GasLimit)

	_, ok = r.Lookup("solana")
	assert.False(t, ok)
}

func TestNewRegistry_Rejects(t *testing.T) {
	_, err := NewRegistry(Chain{Name: " "})
	assert.Error(t, err)

	_, err = NewRegistry(Chain{Name: "polygon"}, Chain{Name: "Polygon"})
	assert.Error(t, err)
}

func TestWithRPCURLs(t *testing.T) {
	r, err := NewRegistry(DefaultChains()...)
	require.NoError(t, err)

	withURLs, err := r.WithRPCURLs(map[string]string{"bsc": "https://bsc.example"})
	require.NoError(t, err)

	bsc, _ := withURLs.Lookup("bsc")
	assert.Equal(t, "https://bsc.example", bsc.RPCURL)
	orig, _ := r.Lookup("bsc")
	assert.Empty(t, orig.RPCURL, "original registry is unchanged")

	_, err = r.WithRPCURLs(map[string]string{"tron": "x"})
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	polygon := Chain{Name: "polygon", Decimals: 6}
	assert.Equal(t, "1.5", polygon.FormatAmount(1_500_000))
	assert.Equal(t, "0.000001", polygon.FormatAmount(1))

	bsc := Chain{Name: "bsc", Decimals: 18}
	assert.Equal(t, "2", bsc.FormatAmount(2_000_000_000_000_000_000))
}
