package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func appendN(tst *testing.T, s *Store, n int) {
	for i := 0; i < n; i++ {
		v := float64(s.Len())
		p := mat.NewDense(3, 2, []float64{v, v, v, v, v, v})
		acc := []bool{i%2 == 0, true, false}
		require.NoError(tst, s.Append(p, []float64{v, v, v}, []float64{-v, -v, -v}, acc))
	}
}

func TestAppendLength(tst *testing.T) {
	s := New(3, 2)
	appendN(tst, s, 5)

	if s.Len() != 5 {
		tst.Errorf("Expected length 5, got %d", s.Len())
	}
	assert.Len(tst, s.Chain(), 5)
	assert.Len(tst, s.LnPost(), 5)
	assert.Len(tst, s.LnProp(), 5)
	assert.Len(tst, s.Acceptance(), 5)
}

func TestAppendCopies(tst *testing.T) {
	s := New(1, 1)
	p := mat.NewDense(1, 1, []float64{1})
	lnpost := []float64{2}
	require.NoError(tst, s.Append(p, lnpost, []float64{3}, []bool{true}))

	p.Set(0, 0, 100)
	lnpost[0] = 100

	assert.Equal(tst, 1.0, s.Positions(0).At(0, 0))
	assert.Equal(tst, 2.0, s.LnPost()[0][0])

	// views are copies too
	s.Chain()[0].Set(0, 0, 7)
	assert.Equal(tst, 1.0, s.Positions(0).At(0, 0))
}

func TestAppendDims(tst *testing.T) {
	s := New(3, 2)
	err := s.Append(mat.NewDense(2, 2, nil), make([]float64, 3), make([]float64, 3), make([]bool, 3))
	assert.Error(tst, err)
	err = s.Append(mat.NewDense(3, 2, nil), make([]float64, 2), make([]float64, 3), make([]bool, 3))
	assert.Error(tst, err)
	assert.Equal(tst, 0, s.Len())
}

func TestTruncateIdempotent(tst *testing.T) {
	s := New(3, 2)
	appendN(tst, s, 6)

	s.Truncate(4)
	first := s.LnPost()
	s.Truncate(4)
	second := s.LnPost()

	assert.Equal(tst, 4, s.Len())
	assert.Equal(tst, first, second)
	assert.Len(tst, s.Acceptance(), 4)
	assert.Len(tst, s.LnProp(), 4)

	// numbering continues from the truncation point
	appendN(tst, s, 1)
	assert.Equal(tst, 4.0, s.LnPost()[4][0])
}

func TestTruncateBounds(tst *testing.T) {
	s := New(3, 2)
	appendN(tst, s, 3)

	s.Truncate(10)
	assert.Equal(tst, 3, s.Len())

	s.Truncate(-1)
	assert.Equal(tst, 0, s.Len())
}

func TestAcceptanceRates(tst *testing.T) {
	s := New(3, 2)
	appendN(tst, s, 4)

	// walker 0 accepts on even steps, walker 1 always, walker 2 never
	assert.Equal(tst, []float64{0.5, 1, 0}, s.AcceptanceRates(4))
	assert.Equal(tst, []float64{0.5, 1, 0}, s.AcceptanceRates(100))
	assert.Equal(tst, []float64{0, 1, 0}, s.AcceptanceRates(1))
	assert.InDelta(tst, 1.0/3, s.LastAcceptanceFraction(), 1e-12)

	empty := New(2, 1)
	assert.Equal(tst, []float64{0, 0}, empty.AcceptanceRates(3))
	assert.Equal(tst, 0.0, empty.LastAcceptanceFraction())
}
