package rank

import (
	"context"
	"errors"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/seido/portal/core"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("rank not found")
	ErrConfigNotFound  = core.NewNotFoundError("grading configuration not found")
	ErrRankOrderExists = errors.New("a rank with this order already exists")
	ErrNoDefaultRank   = errors.New("no default rank configured")
	ErrNotEligible     = errors.New("this rank is not available for grading")

	errKyuXorDan = errors.New("exactly one of kyu or dan must be set")
)

type (
	Repository interface {
		CreateRank(ctx context.Context, rank Rank, exec ...core.DBExecutor) (Rank, error)
		UpdateRank(ctx context.Context, rank Rank, exec ...core.DBExecutor) (Rank, error)
		// QueryRanks returns all ranks ordered by RankOrder.
		QueryRanks(ctx context.Context, exec ...core.DBExecutor) ([]Rank, error)
		GetRank(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Rank, error)
		// ClearDefaultRank unsets IsDefault on every rank.
		ClearDefaultRank(ctx context.Context, exec ...core.DBExecutor) error

		// QueryConfigurations returns configurations ordered by DisplayOrder, with their Rank attached.
		QueryConfigurations(ctx context.Context, onlyAvailable bool, exec ...core.DBExecutor) ([]Configuration, error)
		GetConfiguration(ctx context.Context, id string, exec ...core.DBExecutor) (Configuration, error)
		// SaveConfiguration creates or updates the configuration of Configuration.RankID.
		SaveConfiguration(ctx context.Context, cfg Configuration, exec ...core.DBExecutor) (Configuration, error)
	}

	ServiceInterface interface {
		List(ctx context.Context) ([]Rank, error)
		Get(ctx context.Context, id string) (Rank, error)
		GetByOrder(ctx context.Context, order int) (Rank, error)
		GetDefault(ctx context.Context) (Rank, error)
		Create(ctx context.Context, nr NewRank) (Rank, error)
		Save(ctx context.Context, nr NewRank) (Rank, error)
		ListConfigurations(ctx context.Context, onlyAvailable bool) ([]Configuration, error)
		UpdateConfiguration(ctx context.Context, id string, uc UpdateConfiguration) (Configuration, error)
		SaveConfiguration(ctx context.Context, rankID string, displayOrder int, available bool) (Configuration, error)
		EligibleRanks(ctx context.Context, currentRankID string) ([]Rank, error)
		CheckEligibility(ctx context.Context, currentRankID, requestedRankID string) (Rank, error)
	}

	Service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) List(ctx context.Context) ([]Rank, error) {
	return svc.repo.QueryRanks(ctx)
}

func (svc *Service) Get(ctx context.Context, id string) (Rank, error) {
	return svc.repo.GetRank(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByOrder(ctx context.Context, order int) (Rank, error) {
	return svc.repo.GetRank(ctx, GetFilter{RankOrder: order})
}

func (svc *Service) GetDefault(ctx context.Context) (Rank, error) {
	r, err := svc.repo.GetRank(ctx, GetFilter{Default: true})
	if core.IsNotFound(err) {
		return Rank{}, ErrNoDefaultRank
	}
	return r, err
}

// Create adds a new Rank. RankOrder must be unique.
// Flagging the new rank as default unflags the previous default rank.
func (svc *Service) Create(ctx context.Context, nr NewRank) (Rank, error) {
	if _, err := svc.GetByOrder(ctx, nr.RankOrder); err == nil {
		return Rank{}, core.NewValidationError(ErrRankOrderExists,
			core.FieldError{Field: "rank_order", Error: ErrRankOrderExists.Error()})
	} else if !core.IsNotFound(err) {
		return Rank{}, pkgerrors.Wrap(err, "checking rank order")
	}

	if nr.IsDefault {
		if err := svc.repo.ClearDefaultRank(ctx); err != nil {
			return Rank{}, pkgerrors.Wrap(err, "clearing default rank")
		}
	}
	return svc.repo.CreateRank(ctx, Rank{
		RankOrder:   nr.RankOrder,
		Kyu:         nr.Kyu,
		Dan:         nr.Dan,
		BeltColor:   nr.BeltColor,
		Stripes:     nr.Stripes,
		DisplayName: nr.DisplayName,
		IsDefault:   nr.IsDefault,
		CreatedAt:   time.Now().UTC(),
	})
}

// Save creates the rank or updates the existing rank with the same RankOrder.
func (svc *Service) Save(ctx context.Context, nr NewRank) (Rank, error) {
	existing, err := svc.GetByOrder(ctx, nr.RankOrder)
	if core.IsNotFound(err) {
		return svc.Create(ctx, nr)
	} else if err != nil {
		return Rank{}, pkgerrors.Wrap(err, "finding rank by order")
	}

	if nr.IsDefault && !existing.IsDefault {
		if err = svc.repo.ClearDefaultRank(ctx); err != nil {
			return Rank{}, pkgerrors.Wrap(err, "clearing default rank")
		}
	}
	existing.Kyu = nr.Kyu
	existing.Dan = nr.Dan
	existing.BeltColor = nr.BeltColor
	existing.Stripes = nr.Stripes
	existing.DisplayName = nr.DisplayName
	existing.IsDefault = nr.IsDefault
	return svc.repo.UpdateRank(ctx, existing)
}

func (svc *Service) ListConfigurations(ctx context.Context, onlyAvailable bool) ([]Configuration, error) {
	return svc.repo.QueryConfigurations(ctx, onlyAvailable)
}

func (svc *Service) UpdateConfiguration(ctx context.Context, id string, uc UpdateConfiguration) (Configuration, error) {
	cfg, err := svc.repo.GetConfiguration(ctx, id)
	if err != nil {
		return Configuration{}, err
	}
	if uc.IsAvailable != nil {
		cfg.IsAvailable = *uc.IsAvailable
	}
	if uc.DisplayOrder != nil {
		cfg.DisplayOrder = *uc.DisplayOrder
	}
	cfg.UpdatedAt = time.Now().UTC()
	return svc.repo.SaveConfiguration(ctx, cfg)
}

func (svc *Service) SaveConfiguration(ctx context.Context, rankID string, displayOrder int, available bool) (Configuration, error) {
	if _, err := svc.Get(ctx, rankID); err != nil {
		return Configuration{}, err
	}
	return svc.repo.SaveConfiguration(ctx, Configuration{
		RankID:       rankID,
		IsAvailable:  available,
		DisplayOrder: displayOrder,
		UpdatedAt:    time.Now().UTC(),
	})
}

// EligibleRanks returns the ranks a student holding currentRankID may apply for:
// available grading configurations above their current rank, in display order.
// A student without a current rank may apply for any available rank.
func (svc *Service) EligibleRanks(ctx context.Context, currentRankID string) ([]Rank, error) {
	minOrder := 0
	if currentRankID != "" {
		current, err := svc.Get(ctx, currentRankID)
		if err != nil && !core.IsNotFound(err) {
			return nil, pkgerrors.Wrap(err, "finding current rank")
		}
		minOrder = current.RankOrder
	}

	configs, err := svc.repo.QueryConfigurations(ctx, true)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying grading configurations")
	}
	sort.SliceStable(configs, func(i, j int) bool { return configs[i].DisplayOrder < configs[j].DisplayOrder })

	ranks := make([]Rank, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Rank != nil && cfg.Rank.RankOrder > minOrder {
			ranks = append(ranks, *cfg.Rank)
		}
	}
	return ranks, nil
}

// CheckEligibility returns the requested rank if it is eligible, a ValidationError otherwise.
func (svc *Service) CheckEligibility(ctx context.Context, currentRankID, requestedRankID string) (Rank, error) {
	ranks, err := svc.EligibleRanks(ctx, currentRankID)
	if err != nil {
		return Rank{}, err
	}
	for _, r := range ranks {
		if r.ID == requestedRankID {
			return r, nil
		}
	}
	return Rank{}, core.NewValidationError(ErrNotEligible,
		core.FieldError{Field: "requested_rank_id", Error: ErrNotEligible.Error()})
}
