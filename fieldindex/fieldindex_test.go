package fieldindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRows_ANDSemantics(t *testing.T) {
	ix := New()
	ix.Add(1, map[string][]string{"skills": {"Go", "SQL"}})
	ix.Add(2, map[string][]string{"skills": {"go"}})
	ix.Add(3, map[string][]string{"skills": {"python", "sql"}})

	rows := ix.Rows(map[string][]string{"skills": {"go"}})
	require.NotNil(t, rows)
	assert.ElementsMatch(t, []uint32{1, 2}, rows.ToArray())

	rows = ix.Rows(map[string][]string{"skills": {"go", "sql"}})
	require.NotNil(t, rows)
	assert.Equal(t, []uint32{1}, rows.ToArray())
}

func TestRows_NoRestriction(t *testing.T) {
	ix := New()
	ix.Add(1, map[string][]string{"skills": {"go"}})
	assert.Nil(t, ix.Rows(nil))
	assert.Nil(t, ix.Rows(map[string][]string{}))
}

func TestRows_UnknownValue(t *testing.T) {
	ix := New()
	ix.Add(1, map[string][]string{"skills": {"go"}})

	rows := ix.Rows(map[string][]string{"skills": {"rust"}})
	require.NotNil(t, rows)
	assert.True(t, rows.IsEmpty())
}

func TestRemove(t *testing.T) {
	ix := New()
	fields := map[string][]string{"skills": {"go"}, "location": {"berlin"}}
	ix.Add(7, fields)
	ix.Remove(7, fields)

	rows := ix.Rows(map[string][]string{"skills": {"go"}})
	require.NotNil(t, rows)
	assert.True(t, rows.IsEmpty())

	nFields, nValues := ix.Stats()
	assert.Zero(t, nFields)
	assert.Zero(t, nValues)
}

func TestValueNormalization(t *testing.T) {
	ix := New()
	ix.Add(1, map[string][]string{"skills": {"  Go  "}})

	rows := ix.Rows(map[string][]string{"skills": {"GO"}})
	require.NotNil(t, rows)
	assert.Equal(t, []uint32{1}, rows.ToArray())
}
