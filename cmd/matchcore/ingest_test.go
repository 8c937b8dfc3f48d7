package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecords(t *testing.T) {
	in := strings.NewReader(`{"id":"a","text":"go engineer","fields":{"skills":["go"]}}

{"id":"b","text":"data analyst"}
`)
	records, err := readRecords(in)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, []string{"go"}, records[0].Fields["skills"])
	assert.Equal(t, "data analyst", records[1].Text)
}

func TestReadRecordsBadLine(t *testing.T) {
	_, err := readRecords(strings.NewReader("{not json}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
