package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/pokefantasia/internal/config"
	"github.com/3leaps/pokefantasia/pkg/variant"
)

func TestWiring_OneOpenerServesBucketsAndRegistry(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "file"
	cfg.Storage.BaseDir = t.TempDir()

	opener, err := newBucketOpener(context.Background(), cfg)
	require.NoError(t, err)

	buckets, err := buildBuckets(opener, cfg)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	for _, class := range []variant.BackendClass{
		variant.ClassTypeID, variant.ClassTypeConv, variant.ClassFormatConv,
	} {
		pair, ok := buckets[class]
		assert.True(t, ok, "missing buckets for %s", class)
		assert.NotNil(t, pair.Source)
		assert.NotNil(t, pair.Output)
	}

	registry, err := buildRegistry(opener, cfg)
	require.NoError(t, err)
	assert.NotNil(t, registry)
}
