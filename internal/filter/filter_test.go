package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fourFilters() Set {
	return Set{Filters: []Filter{
		{Axis: 1, In: 100, Out: 0},
		{Axis: 2, In: 100, Out: 0},
		{Axis: 3, In: -50, Out: 50},
		{Axis: 4, In: 100, Out: 0},
	}}
}

func TestMaxAttenuation(t *testing.T) {
	assert.Equal(t, 0, Set{}.MaxAttenuation())
	assert.Equal(t, 15, fourFilters().MaxAttenuation())
	assert.Equal(t, 63, Set{Filters: make([]Filter, 6)}.MaxAttenuation())
}

func TestContains(t *testing.T) {
	s := fourFilters()
	assert.True(t, s.Contains(0))
	assert.True(t, s.Contains(15))
	assert.False(t, s.Contains(16))
	assert.False(t, s.Contains(-1))
}

func TestInsertedMatchesBits(t *testing.T) {
	s := fourFilters()
	assert.Equal(t, []bool{true, false, true, false}, s.Inserted(5))
	assert.Equal(t, []bool{false, false, false, false}, s.Inserted(0))
}

func TestTravel(t *testing.T) {
	s := fourFilters()
	assert.Equal(t, 100.0, s.Filters[0].Travel())
	assert.Equal(t, -100.0, s.Filters[2].Travel())
	assert.Equal(t, 100.0, s.MaxTravel([]int{0, 2}))
	assert.Equal(t, 0.0, s.MaxTravel(nil))
}

func TestNewPlan(t *testing.T) {
	tests := []struct {
		name      string
		from, to  int
		wantIn    []int
		wantOut   []int
		wantEmpty bool
	}{
		{"rise 0 to 1", 0, 1, []int{0}, nil, false},
		{"carry 1 to 2", 1, 2, []int{1}, []int{0}, false},
		{"carry 7 to 8", 7, 8, []int{3}, []int{0, 1, 2}, false},
		{"fall 8 to 7", 8, 7, []int{0, 1, 2}, []int{3}, false},
		{"same level", 5, 5, nil, nil, true},
		{"all in", 0, 15, []int{0, 1, 2, 3}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlan(tt.from, tt.to, 4)
			assert.Equal(t, tt.wantIn, p.In)
			assert.Equal(t, tt.wantOut, p.Out)
			assert.Equal(t, tt.wantEmpty, p.Empty())
			assert.Equal(t, tt.from, p.From)
			assert.Equal(t, tt.to, p.To)
		})
	}
}

// Applying a plan's moves to the current bitmask must yield the target for
// every pair of levels.
func TestNewPlanReachesTarget(t *testing.T) {
	for from := 0; from <= 15; from++ {
		for to := 0; to <= 15; to++ {
			p := NewPlan(from, to, 4)
			got := from
			for _, i := range p.In {
				got |= 1 << i
			}
			for _, i := range p.Out {
				got &^= 1 << i
			}
			require.Equal(t, to, got, "from %d to %d", from, to)
		}
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "filter1", Key(0))
	assert.Equal(t, "filter6", Key(5))

	i, err := ParseKey("filter3", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	for _, bad := range []string{"filter0", "filter5", "filterx", "f1", ""} {
		_, err := ParseKey(bad, 4)
		assert.Error(t, err, bad)
	}
}
