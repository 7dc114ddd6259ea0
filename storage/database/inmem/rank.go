package inmemdb

import (
	"context"
	"sort"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/rank"
)

type rankRepository struct {
	ranks   *table[rank.Rank]
	configs *table[rank.Configuration]
}

var _ rank.Repository = (*rankRepository)(nil) // interface compliance check

func NewRankRepository(db *DB) *rankRepository {
	return &rankRepository{ranks: db.rank, configs: db.config}
}

func (repo *rankRepository) CreateRank(_ context.Context, r rank.Rank, _ ...core.DBExecutor) (rank.Rank, error) {
	r.ID = newID()
	repo.ranks.put(r.ID, r)
	return r, nil
}

func (repo *rankRepository) UpdateRank(_ context.Context, r rank.Rank, _ ...core.DBExecutor) (rank.Rank, error) {
	if _, ok := repo.ranks.get(r.ID); !ok {
		return rank.Rank{}, rank.ErrNotFound
	}
	repo.ranks.put(r.ID, r)
	return r, nil
}

func (repo *rankRepository) QueryRanks(_ context.Context, _ ...core.DBExecutor) ([]rank.Rank, error) {
	ranks := repo.ranks.filter(func(rank.Rank) bool { return true })
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].RankOrder < ranks[j].RankOrder })
	return ranks, nil
}

func (repo *rankRepository) GetRank(_ context.Context, filter rank.GetFilter, _ ...core.DBExecutor) (rank.Rank, error) {
	var found []rank.Rank
	switch {
	case filter.ID != "":
		if r, ok := repo.ranks.get(filter.ID); ok {
			return r, nil
		}
	case filter.RankOrder != 0:
		found = repo.ranks.filter(func(r rank.Rank) bool { return r.RankOrder == filter.RankOrder })
	case filter.Default:
		found = repo.ranks.filter(func(r rank.Rank) bool { return r.IsDefault })
	}
	if len(found) > 0 {
		return found[0], nil
	}
	return rank.Rank{}, rank.ErrNotFound
}

func (repo *rankRepository) ClearDefaultRank(_ context.Context, _ ...core.DBExecutor) error {
	repo.ranks.Lock()
	defer repo.ranks.Unlock()
	for id, r := range repo.ranks.rows {
		if r.IsDefault {
			r.IsDefault = false
			repo.ranks.rows[id] = r
		}
	}
	return nil
}

// withRank attaches the configuration's Rank; configurations of deleted ranks are dropped.
func (repo *rankRepository) withRank(cfg rank.Configuration) (rank.Configuration, bool) {
	r, ok := repo.ranks.get(cfg.RankID)
	if !ok {
		return cfg, false
	}
	cfg.Rank = &r
	return cfg, true
}

func (repo *rankRepository) QueryConfigurations(_ context.Context, onlyAvailable bool, _ ...core.DBExecutor) ([]rank.Configuration, error) {
	rows := repo.configs.filter(func(cfg rank.Configuration) bool { return !onlyAvailable || cfg.IsAvailable })
	configs := make([]rank.Configuration, 0, len(rows))
	for _, cfg := range rows {
		if cfg, ok := repo.withRank(cfg); ok {
			configs = append(configs, cfg)
		}
	}
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].DisplayOrder != configs[j].DisplayOrder {
			return configs[i].DisplayOrder < configs[j].DisplayOrder
		}
		return configs[i].Rank.RankOrder < configs[j].Rank.RankOrder
	})
	return configs, nil
}

func (repo *rankRepository) GetConfiguration(_ context.Context, id string, _ ...core.DBExecutor) (rank.Configuration, error) {
	if cfg, ok := repo.configs.get(id); ok {
		if cfg, ok = repo.withRank(cfg); ok {
			return cfg, nil
		}
	}
	return rank.Configuration{}, rank.ErrConfigNotFound
}

func (repo *rankRepository) SaveConfiguration(_ context.Context, cfg rank.Configuration, _ ...core.DBExecutor) (rank.Configuration, error) {
	repo.configs.Lock()
	cfg.ID = ""
	for id, existing := range repo.configs.rows {
		if existing.RankID == cfg.RankID {
			cfg.ID = id
			break
		}
	}
	if cfg.ID == "" {
		cfg.ID = newID()
	}
	cfg.Rank = nil
	repo.configs.rows[cfg.ID] = cfg
	repo.configs.Unlock()

	if cfg, ok := repo.withRank(cfg); ok {
		return cfg, nil
	}
	return rank.Configuration{}, rank.ErrConfigNotFound
}
