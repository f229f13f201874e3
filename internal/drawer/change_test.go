package drawer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

func TestComputeChange(t *testing.T) {
	tests := []struct {
		name      string
		available model.DenominationCount
		due       int64
		want      model.DenominationCount
		wantErr   error
	}{
		{
			name:      "zero due",
			available: model.DenominationCount{1000: 1},
			due:       0,
			want:      model.DenominationCount{},
		},
		{
			name:      "largest first",
			available: model.DenominationCount{1000: 3, 500: 2, 100: 10},
			due:       1700,
			want:      model.DenominationCount{1000: 1, 500: 1, 100: 2},
		},
		{
			name:      "falls back to smaller units",
			available: model.DenominationCount{2000: 0, 1000: 2},
			due:       2000,
			want:      model.DenominationCount{1000: 2},
		},
		{
			name:      "greedy failure is deterministic",
			available: model.DenominationCount{2000: 0, 1000: 1, 500: 0},
			due:       1500,
			wantErr:   ErrInsufficientFunds,
		},
		{
			name:      "negative counts are not spent",
			available: model.DenominationCount{1000: -2, 100: 5},
			due:       500,
			want:      model.DenominationCount{100: 5},
		},
		{
			name:      "negative due",
			available: model.DenominationCount{100: 5},
			due:       -1,
			wantErr:   ErrNegativeAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeChange(model.DefaultDenominations, tt.available, tt.due)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeChange_PathologicalSet(t *testing.T) {
	set := model.MustDenominationSet(4, 3, 1)

	// 3+3 would work, greedy takes 4 first and gets stuck.
	_, err := ComputeChange(set, model.DenominationCount{4: 1, 3: 2}, 6)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestComputeChange_DoesNotMutateInput(t *testing.T) {
	available := model.DenominationCount{1000: 2}
	_, err := ComputeChange(model.DefaultDenominations, available, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), available[1000])
}

func TestComputeChange_ResultIsExactAndCovered(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	denoms := model.DefaultDenominations.Values()

	for i := 0; i < 500; i++ {
		available := make(model.DenominationCount)
		for _, d := range denoms {
			available[d] = int64(rng.Intn(4))
		}
		due := rng.Int63n(available.Total() + 1)

		got, err := ComputeChange(model.DefaultDenominations, available, due)
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientFunds)
			continue
		}
		require.Equal(t, due, got.Total())
		require.True(t, available.Covers(got), "available %v, change %v", available, got)
	}
}
