package cachecore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachecore/cachecore"
	"github.com/cachecore/cachecore/internal/request"
)

func TestLoadPartitionTable_ParsesKnownModes(t *testing.T) {
	r := strings.NewReader(`[
		{"id": 0, "mode": "wt"},
		{"id": 1, "mode": "WB"},
		{"id": 7, "mode": "pt"}
	]`)

	table, err := cachecore.LoadPartitionTable(r)
	require.NoError(t, err)

	assert.Equal(t, request.ModeWT, table[0])
	assert.Equal(t, request.ModeWB, table[1])
	assert.Equal(t, request.ModePT, table[7])
	assert.Len(t, table, 3)
}

func TestLoadPartitionTable_RejectsUnknownMode(t *testing.T) {
	r := strings.NewReader(`[{"id": 0, "mode": "bogus"}]`)

	_, err := cachecore.LoadPartitionTable(r)
	assert.Error(t, err)
}

func TestLoadPartitionTable_RejectsDuplicateID(t *testing.T) {
	r := strings.NewReader(`[
		{"id": 3, "mode": "wt"},
		{"id": 3, "mode": "wb"}
	]`)

	_, err := cachecore.LoadPartitionTable(r)
	assert.Error(t, err)
}

func TestLoadPartitionTableFile_MissingFile(t *testing.T) {
	_, err := cachecore.LoadPartitionTableFile("/nonexistent/path/partitions.json")
	assert.Error(t, err)
}
