package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/rank"
)

const rankColumns = `id, rank_order, kyu, dan, belt_color, stripes, display_name, is_default_rank, created_at`

type rankRow struct {
	ID          string    `db:"id"`
	RankOrder   int       `db:"rank_order"`
	Kyu         null.Int  `db:"kyu"`
	Dan         null.Int  `db:"dan"`
	BeltColor   string    `db:"belt_color"`
	Stripes     int       `db:"stripes"`
	DisplayName string    `db:"display_name"`
	IsDefault   bool      `db:"is_default_rank"`
	CreatedAt   time.Time `db:"created_at"`
}

type configurationRow struct {
	ID           string    `db:"id"`
	RankID       string    `db:"rank_id"`
	IsAvailable  bool      `db:"is_available"`
	DisplayOrder int       `db:"display_order"`
	UpdatedAt    time.Time `db:"updated_at"`
	Rank         rankRow   `db:"rank"`
}

type rankRepository struct {
	baseRepository
}

var _ rank.Repository = (*rankRepository)(nil) // interface compliance check

func NewRankRepository(exec core.DBExecutor) *rankRepository {
	return &rankRepository{baseRepository{exec: exec}}
}

func (repo rankRepository) toRow(r rank.Rank) rankRow {
	return rankRow{
		ID:          r.ID,
		RankOrder:   r.RankOrder,
		Kyu:         null.IntFromPtr(r.Kyu),
		Dan:         null.IntFromPtr(r.Dan),
		BeltColor:   r.BeltColor,
		Stripes:     r.Stripes,
		DisplayName: r.DisplayName,
		IsDefault:   r.IsDefault,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func (repo rankRepository) fromRow(row rankRow) rank.Rank {
	return rank.Rank{
		ID:          row.ID,
		RankOrder:   row.RankOrder,
		Kyu:         row.Kyu.Ptr(),
		Dan:         row.Dan.Ptr(),
		BeltColor:   row.BeltColor,
		Stripes:     row.Stripes,
		DisplayName: row.DisplayName,
		IsDefault:   row.IsDefault,
		CreatedAt:   row.CreatedAt,
	}
}

func (repo rankRepository) CreateRank(ctx context.Context, r rank.Rank, exec ...core.DBExecutor) (rank.Rank, error) {
	r.ID = uuid.New().String()
	_, err := repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO rank (`+rankColumns+`)
		VALUES (:id, :rank_order, :kyu, :dan, :belt_color, :stripes, :display_name, :is_default_rank, :created_at)`,
		repo.toRow(r))
	if err != nil {
		return rank.Rank{}, errors.Wrap(err, "inserting rank")
	}
	return r, nil
}

func (repo rankRepository) UpdateRank(ctx context.Context, r rank.Rank, exec ...core.DBExecutor) (rank.Rank, error) {
	res, err := repo.getExec(exec).NamedExecContext(ctx, `
		UPDATE rank SET
			rank_order = :rank_order, kyu = :kyu, dan = :dan, belt_color = :belt_color, stripes = :stripes,
			display_name = :display_name, is_default_rank = :is_default_rank
		WHERE id = :id`,
		repo.toRow(r))
	if err != nil {
		return rank.Rank{}, errors.Wrap(err, "updating rank")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rank.Rank{}, rank.ErrNotFound
	}
	return r, nil
}

func (repo rankRepository) QueryRanks(ctx context.Context, exec ...core.DBExecutor) ([]rank.Rank, error) {
	var rows []rankRow
	if err := repo.getExec(exec).SelectContext(ctx, &rows, `SELECT `+rankColumns+` FROM rank ORDER BY rank_order`); err != nil {
		return nil, errors.Wrap(err, "querying ranks")
	}
	ranks := make([]rank.Rank, 0, len(rows))
	for _, row := range rows {
		ranks = append(ranks, repo.fromRow(row))
	}
	return ranks, nil
}

func (repo rankRepository) GetRank(ctx context.Context, filter rank.GetFilter, exec ...core.DBExecutor) (rank.Rank, error) {
	q := newQuery(`SELECT ` + rankColumns + ` FROM rank`)
	switch {
	case filter.ID != "":
		if !isUUID(filter.ID) {
			return rank.Rank{}, rank.ErrNotFound
		}
		q.Where("id = ?", filter.ID)
	case filter.RankOrder != 0:
		q.Where("rank_order = ?", filter.RankOrder)
	case filter.Default:
		q.Where("is_default_rank")
	default:
		return rank.Rank{}, rank.ErrNotFound
	}

	stmt, args, err := q.Build()
	if err != nil {
		return rank.Rank{}, err
	}
	var row rankRow
	if err = repo.getExec(exec).GetContext(ctx, &row, stmt, args...); err != nil {
		return rank.Rank{}, trapNoRowsErr(err, rank.ErrNotFound, "finding rank")
	}
	return repo.fromRow(row), nil
}

func (repo rankRepository) ClearDefaultRank(ctx context.Context, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx, `UPDATE rank SET is_default_rank = FALSE WHERE is_default_rank`)
	return errors.Wrap(err, "clearing default rank")
}

const configurationSelect = `
	SELECT c.id, c.rank_id, c.is_available, c.display_order, c.updated_at,
		r.id "rank.id", r.rank_order "rank.rank_order", r.kyu "rank.kyu", r.dan "rank.dan",
		r.belt_color "rank.belt_color", r.stripes "rank.stripes", r.display_name "rank.display_name",
		r.is_default_rank "rank.is_default_rank", r.created_at "rank.created_at"
	FROM grading_configuration c JOIN rank r ON r.id = c.rank_id`

func (repo rankRepository) fromConfigurationRow(row configurationRow) rank.Configuration {
	r := repo.fromRow(row.Rank)
	return rank.Configuration{
		ID:           row.ID,
		RankID:       row.RankID,
		IsAvailable:  row.IsAvailable,
		DisplayOrder: row.DisplayOrder,
		UpdatedAt:    row.UpdatedAt,
		Rank:         &r,
	}
}

func (repo rankRepository) QueryConfigurations(ctx context.Context, onlyAvailable bool, exec ...core.DBExecutor) ([]rank.Configuration, error) {
	q := newQuery(configurationSelect).Suffix("ORDER BY c.display_order, r.rank_order")
	if onlyAvailable {
		q.Where("c.is_available")
	}
	stmt, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	var rows []configurationRow
	if err = repo.getExec(exec).SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "querying grading configurations")
	}
	configs := make([]rank.Configuration, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, repo.fromConfigurationRow(row))
	}
	return configs, nil
}

func (repo rankRepository) GetConfiguration(ctx context.Context, id string, exec ...core.DBExecutor) (rank.Configuration, error) {
	if !isUUID(id) {
		return rank.Configuration{}, rank.ErrConfigNotFound
	}
	stmt, args, err := newQuery(configurationSelect).Where("c.id = ?", id).Build()
	if err != nil {
		return rank.Configuration{}, err
	}
	var row configurationRow
	if err = repo.getExec(exec).GetContext(ctx, &row, stmt, args...); err != nil {
		return rank.Configuration{}, trapNoRowsErr(err, rank.ErrConfigNotFound, "finding grading configuration")
	}
	return repo.fromConfigurationRow(row), nil
}

func (repo rankRepository) SaveConfiguration(ctx context.Context, cfg rank.Configuration, exec ...core.DBExecutor) (rank.Configuration, error) {
	exe := repo.getExec(exec)
	_, err := exe.NamedExecContext(ctx, `
		INSERT INTO grading_configuration (id, rank_id, is_available, display_order, updated_at)
		VALUES (:id, :rank_id, :is_available, :display_order, :updated_at)
		ON CONFLICT (rank_id) DO UPDATE SET
			is_available = EXCLUDED.is_available,
			display_order = EXCLUDED.display_order,
			updated_at = EXCLUDED.updated_at`,
		map[string]interface{}{
			"id":            uuid.New().String(),
			"rank_id":       cfg.RankID,
			"is_available":  cfg.IsAvailable,
			"display_order": cfg.DisplayOrder,
			"updated_at":    cfg.UpdatedAt.UTC(),
		})
	if err != nil {
		return rank.Configuration{}, errors.Wrap(err, "saving grading configuration")
	}

	stmt, args, err := newQuery(configurationSelect).Where("c.rank_id = ?", cfg.RankID).Build()
	if err != nil {
		return rank.Configuration{}, err
	}
	var row configurationRow
	if err = exe.GetContext(ctx, &row, stmt, args...); err != nil {
		return rank.Configuration{}, trapNoRowsErr(err, rank.ErrConfigNotFound, "finding grading configuration")
	}
	return repo.fromConfigurationRow(row), nil
}
