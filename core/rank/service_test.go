package rank_test

import (
	"context"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xorcare/pointer"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/rank"
	inmemdb "github.com/seido/portal/storage/database/inmem"
	"github.com/seido/portal/tests"
)

func setup(t *testing.T) (*rank.Service, rank.Repository) {
	t.Helper()
	repo := inmemdb.NewRankRepository(inmemdb.Open())
	return rank.NewService(repo), repo
}

func newValidator() *validator.Validate {
	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	return validate
}

func TestService_Create(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	white, err := svc.Create(ctx, rank.NewRank{RankOrder: 1, Kyu: pointer.Int(10), BeltColor: rank.BeltWhite, IsDefault: true})
	require.NoError(t, err)
	assert.Equal(t, "10 Kyu", white.Label())

	_, err = svc.Create(ctx, rank.NewRank{RankOrder: 1, Kyu: pointer.Int(9)})
	var vErr *core.ValidationError
	if assert.ErrorAs(t, err, &vErr) {
		assert.Equal(t, rank.ErrRankOrderExists, vErr.Err)
	}

	yellow, err := svc.Create(ctx, rank.NewRank{RankOrder: 2, Kyu: pointer.Int(9), IsDefault: true})
	require.NoError(t, err)

	def, err := svc.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, yellow.ID, def.ID)

	ranks, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.False(t, ranks[0].IsDefault)

	t.Run("save updates by rank order", func(t *testing.T) {
		saved, err := svc.Save(ctx, rank.NewRank{RankOrder: 2, Kyu: pointer.Int(9), Stripes: 1, DisplayName: "9 Kyu (1 stripe)", IsDefault: true})
		require.NoError(t, err)
		assert.Equal(t, yellow.ID, saved.ID)
		assert.Equal(t, "9 Kyu (1 stripe)", saved.Label())

		ranks, err := svc.List(ctx)
		require.NoError(t, err)
		assert.Len(t, ranks, 2)
	})
}

func TestNewRank_Validate(t *testing.T) {
	validate := newValidator()

	tests := []struct {
		name          string
		nr            rank.NewRank
		wantErr       bool
		wantBeltColor string
	}{
		{name: "neither kyu nor dan", nr: rank.NewRank{RankOrder: 1}, wantErr: true},
		{name: "both kyu and dan", nr: rank.NewRank{RankOrder: 1, Kyu: pointer.Int(1), Dan: pointer.Int(1)}, wantErr: true},
		{name: "kyu out of range", nr: rank.NewRank{RankOrder: 1, Kyu: pointer.Int(11)}, wantErr: true},
		{name: "order required", nr: rank.NewRank{Kyu: pointer.Int(3)}, wantErr: true},
		{name: "white belt", nr: rank.NewRank{RankOrder: 1, Kyu: pointer.Int(9)}, wantBeltColor: rank.BeltWhite},
		{name: "orange belt", nr: rank.NewRank{RankOrder: 3, Kyu: pointer.Int(6)}, wantBeltColor: rank.BeltOrange},
		{name: "brown belt", nr: rank.NewRank{RankOrder: 8, Kyu: pointer.Int(1)}, wantBeltColor: rank.BeltBrown},
		{name: "black belt", nr: rank.NewRank{RankOrder: 11, Dan: pointer.Int(1)}, wantBeltColor: rank.BeltBlack},
		{name: "explicit color", nr: rank.NewRank{RankOrder: 2, Kyu: pointer.Int(9), BeltColor: " Yellow "}, wantBeltColor: "Yellow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nr := tt.nr
			err := nr.Validate(validate)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBeltColor, nr.BeltColor)
		})
	}
}

func TestService_EligibleRanks(t *testing.T) {
	svc, repo := setup(t)
	ctx := context.Background()
	ranks := testutil.CreateKyuRanks(t, repo)

	// hide 8 Kyu
	cfgs, err := svc.ListConfigurations(ctx, false)
	require.NoError(t, err)
	require.Len(t, cfgs, 10)
	_, err = svc.UpdateConfiguration(ctx, cfgs[2].ID, rank.UpdateConfiguration{IsAvailable: pointer.Bool(false)})
	require.NoError(t, err)

	available, err := svc.ListConfigurations(ctx, true)
	require.NoError(t, err)
	assert.Len(t, available, 9)

	eligible, err := svc.EligibleRanks(ctx, ranks[1].ID)
	require.NoError(t, err)
	if assert.Len(t, eligible, 7) {
		assert.Equal(t, ranks[3].ID, eligible[0].ID)
	}

	all, err := svc.EligibleRanks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 9)

	tests := []struct {
		name      string
		current   string
		requested string
		wantErr   bool
	}{
		{name: "next rank", current: ranks[0].ID, requested: ranks[1].ID},
		{name: "skipping ranks", current: ranks[0].ID, requested: ranks[5].ID},
		{name: "same rank", current: ranks[4].ID, requested: ranks[4].ID, wantErr: true},
		{name: "lower rank", current: ranks[4].ID, requested: ranks[1].ID, wantErr: true},
		{name: "unavailable rank", current: ranks[0].ID, requested: ranks[2].ID, wantErr: true},
		{name: "unknown rank", current: ranks[0].ID, requested: "lol", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := svc.CheckEligibility(ctx, tt.current, tt.requested)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.requested, r.ID)
				return
			}
			var vErr *core.ValidationError
			if assert.ErrorAs(t, err, &vErr) {
				assert.Equal(t, rank.ErrNotEligible, vErr.Err)
			}
		})
	}

	_, err = svc.UpdateConfiguration(ctx, "lol", rank.UpdateConfiguration{})
	assert.Equal(t, rank.ErrConfigNotFound, err)
}

func TestBeltColorForKyu(t *testing.T) {
	want := map[int]string{
		10: rank.BeltWhite, 9: rank.BeltWhite,
		8: rank.BeltOrange, 5: rank.BeltOrange,
		4: rank.BeltBrown, 1: rank.BeltBrown,
		0: rank.BeltBlack,
	}
	for kyu, color := range want {
		assert.Equal(t, color, rank.BeltColorForKyu(kyu), "kyu %d", kyu)
	}
}
