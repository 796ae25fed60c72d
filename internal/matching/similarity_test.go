package matching

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipSync/internal/models"
)

func TestSimilarity_Identity(t *testing.T) {
	require.Equal(t, 1.0, Similarity("Marcus Johnson", "Marcus Johnson"))
	require.Equal(t, 1.0, Similarity("marcus johnson", "MARCUS JOHNSON"))
}

func TestSimilarity_Empty(t *testing.T) {
	require.Equal(t, 0.0, Similarity("", "Marcus Johnson"))
	require.Equal(t, 0.0, Similarity("Marcus Johnson", ""))
	require.Equal(t, 0.0, Similarity("", ""))
	require.Equal(t, 0.0, Similarity("   ", "x"))
}

func TestSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Marcus Johnson", "Marcus Jonson"},
		{"12 NW 8th St, Miami FL", "12 NW 8 St Miami FL"},
		{"abc", "xyz"},
		{"кошка", "собака"},
	}
	for _, p := range pairs {
		require.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), "pair %v", p)
	}
}

func TestSimilarity_Range(t *testing.T) {
	s := Similarity("Marcus Johnson", "Marcus Jonson")
	require.Greater(t, s, 0.9)
	require.Less(t, s, 1.0)

	require.Equal(t, 0.0, Similarity("aaa", "bbb"))
}

func TestMatcher_Best_NameAboveThreshold(t *testing.T) {
	m := New(DefaultConfig())
	existing := []*models.Customer{
		{ID: 1, FullName: "Marcus Johnson", Address: "12 NW 8th St, Miami FL"},
		{ID: 2, FullName: "Helen Briggs", Address: "400 Ocean Dr, Miami FL"},
	}

	// 95%-похожее имя должно резолвиться в существующего клиента.
	res, ok := m.Best("Marcus Jonson", "somewhere else entirely", existing)
	require.True(t, ok)
	require.Equal(t, uint64(1), res.Customer.ID)
	require.Greater(t, res.NameScore, 0.9)
}

func TestMatcher_Best_NoMatchBelowThresholds(t *testing.T) {
	m := New(DefaultConfig())
	existing := []*models.Customer{
		{ID: 1, FullName: "Marcus Johnson", Address: "12 NW 8th St, Miami FL"},
	}

	_, ok := m.Best("Piotr Kowalski", "ul. Dluga 5, Warszawa", existing)
	require.False(t, ok)
}

func TestMatcher_Best_AddressOnlyMatch(t *testing.T) {
	m := New(DefaultConfig())
	existing := []*models.Customer{
		{ID: 3, FullName: "P Kowalski", Address: "12 NW 8th St, Miami FL 33101"},
	}

	res, ok := m.Best("Piotr Nowak", "12 NW 8th St, Miami FL 33101", existing)
	require.True(t, ok)
	require.Equal(t, uint64(3), res.Customer.ID)
	require.Equal(t, 1.0, res.AddressScore)
}

func TestMatcher_Best_TieBreakHighestScore(t *testing.T) {
	m := New(DefaultConfig())
	existing := []*models.Customer{
		{ID: 1, FullName: "Marcus Johnsen", Address: "unrelated"},
		{ID: 2, FullName: "Marcus Johnson", Address: "unrelated"},
	}

	res, ok := m.Best("Marcus Johnson", "zzz", existing)
	require.True(t, ok)
	require.Equal(t, uint64(2), res.Customer.ID)
	require.Equal(t, 2, res.Qualified)
	require.Greater(t, res.RunnerUpScore, 0.0)
}
