package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairdatahub/arc-harvester/internal/domain"
	"github.com/fairdatahub/arc-harvester/internal/store"
)

func TestHashContentIsDeterministic(t *testing.T) {
	content := domain.JSONBMap{
		"isa":     domain.JSONBMap{"identifier": "inv-1", "title": "Study"},
		"studies": []any{"s1", "s2"},
	}

	first, err := store.HashContent(content)
	require.NoError(t, err)

	second, err := store.HashContent(content)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestHashContentIgnoresKeyInsertionOrder(t *testing.T) {
	a := domain.JSONBMap{}
	a["title"] = "x"
	a["identifier"] = "inv-1"

	b := domain.JSONBMap{}
	b["identifier"] = "inv-1"
	b["title"] = "x"

	hashA, err := store.HashContent(a)
	require.NoError(t, err)

	hashB, err := store.HashContent(b)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestHashContentDiffersOnChange(t *testing.T) {
	base := domain.JSONBMap{"title": "x"}
	changed := domain.JSONBMap{"title": "y"}

	hashBase, err := store.HashContent(base)
	require.NoError(t, err)

	hashChanged, err := store.HashContent(changed)
	require.NoError(t, err)

	assert.NotEqual(t, hashBase, hashChanged)
}
