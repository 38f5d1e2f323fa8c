package sessions

import (
	"kis_trader/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateFund(t *testing.T) {
	tests := []struct {
		name      string
		cash      int64
		committed int64
		free      int
		want      int64
	}{
		{"all slots free", 900, 0, 3, 300},
		{"two free", 900, 300, 2, 300},
		{"one free", 900, 600, 1, 300},
		{"none free", 900, 0, 0, 0},
		{"over-committed", 100, 600, 1, 0},
		{"all free ignores committed", 900, 900, 3, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllocateFund(tt.cash, tt.committed, tt.free, 3))
		})
	}
}

func TestCommitted(t *testing.T) {
	assert.Equal(t, int64(450), Committed([]models.Session{{SpentFund: 100}, {SpentFund: 350}}))
	assert.Zero(t, Committed(nil))
}

func TestTrancheFund(t *testing.T) {
	s := models.Session{Fund: 300_000}
	assert.Equal(t, int64(99_000), TrancheFund(s, 3))

	s.Tranches, s.SpentFund = 1, 98_500
	assert.Equal(t, int64(99_000), TrancheFund(s, 3))

	s.Tranches, s.SpentFund = 2, 197_000
	assert.Equal(t, int64(103_000), TrancheFund(s, 3), "final tranche spends the rest")

	s.Tranches = 3
	assert.Zero(t, TrancheFund(s, 3))
}

func TestShares(t *testing.T) {
	assert.Equal(t, int64(3), Shares(99_000, 30_000))
	assert.Zero(t, Shares(99_000, 0))
	assert.Zero(t, Shares(10, 30_000))
}
