package executor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectConnectionMode(t *testing.T) {
	tests := []struct {
		units, budget int
		want          ConnectionMode
	}{
		{units: 5, budget: 5, want: MemoryStrictly},
		{units: 6, budget: 5, want: ConnectionStrictly},
		{units: 0, budget: 1, want: MemoryStrictly},
		{units: 1, budget: 1, want: MemoryStrictly},
		{units: 2, budget: 1, want: ConnectionStrictly},
		{units: 2, budget: 0, want: ConnectionStrictly},
		{units: 1, budget: -3, want: MemoryStrictly},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_units_budget_%d", tt.units, tt.budget), func(t *testing.T) {
			assert.Equal(t, tt.want, SelectConnectionMode(tt.units, tt.budget))
		})
	}
}

func TestGroupUnits_ChunkSizing(t *testing.T) {
	units := make([]int, 10)
	for i := range units {
		units[i] = i
	}
	mode, chunks := GroupUnits(units, 3)
	assert.Equal(t, ConnectionStrictly, mode)
	assert.Equal(t, []int{4, 4, 2}, chunkSizes(chunks))
}

func TestGroupUnits_Empty(t *testing.T) {
	mode, chunks := GroupUnits([]int(nil), 4)
	assert.Equal(t, MemoryStrictly, mode)
	assert.Empty(t, chunks)
}

func TestGroupUnits_NonPositiveBudget(t *testing.T) {
	_, chunks := GroupUnits([]int{1, 2, 3}, 0)
	assert.Equal(t, [][]int{{1, 2, 3}}, chunks)
}

func TestGroupUnits_Partition(t *testing.T) {
	for n := 0; n <= 40; n++ {
		units := make([]string, n)
		for i := range units {
			units[i] = fmt.Sprintf("u%d", i)
		}
		for budget := 1; budget <= 12; budget++ {
			_, chunks := GroupUnits(units, budget)
			var joined []string
			for _, c := range chunks {
				require.NotEmpty(t, c, "n=%d budget=%d", n, budget)
				joined = append(joined, c...)
			}
			require.Equal(t, len(units), len(joined), "n=%d budget=%d", n, budget)
			for i := range units {
				require.Equal(t, units[i], joined[i], "n=%d budget=%d", n, budget)
			}
			require.LessOrEqual(t, len(chunks), budget, "n=%d budget=%d", n, budget)
		}
	}
}

func TestGroupUnits_ChunksDoNotAlias(t *testing.T) {
	_, chunks := GroupUnits([]int{1, 2, 3, 4}, 2)
	require.Len(t, chunks, 2)
	chunks[0] = append(chunks[0], 99)
	assert.Equal(t, []int{3, 4}, chunks[1])
}

func TestConnectionModeString(t *testing.T) {
	assert.Equal(t, "memory_strictly", MemoryStrictly.String())
	assert.Equal(t, "connection_strictly", ConnectionStrictly.String())
	assert.Equal(t, "unknown", ConnectionMode(7).String())
}

func chunkSizes[U any](chunks [][]U) []int {
	sizes := make([]int, len(chunks))
	for i, c := range chunks {
		sizes[i] = len(c)
	}
	return sizes
}
