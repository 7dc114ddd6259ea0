package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/seido/portal/core/rank"
)

type rankApi struct {
	ServerDeps
	svc rank.ServiceInterface
}

func registerRankAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := rankApi{ServerDeps: deps, svc: deps.RankSvc}

	rg := g.Group("/ranks", jwt)
	rg.GET("", api.list)
	rg.POST("", api.create, adminMiddleware())
	rg.GET("/eligible", api.eligible, activeUserMiddleware(deps.UserSvc))
	rg.GET("/configurations", api.listConfigurations)
	rg.PUT("/configurations/:id", api.updateConfiguration, adminMiddleware())
}

func (api *rankApi) list(ctx echo.Context) error {
	ranks, err := api.svc.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing ranks")
	}
	if ranks == nil {
		ranks = []rank.Rank{}
	}
	return ctx.JSON(http.StatusOK, ranks)
}

func (api *rankApi) create(ctx echo.Context) error {
	var data rank.NewRank
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRank")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	r, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating rank")
	}
	return ctx.JSON(http.StatusCreated, r)
}

// eligible lists the ranks the current user may apply for.
func (api *rankApi) eligible(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	ranks, err := api.svc.EligibleRanks(ctx.Request().Context(), usr.CurrentRankID)
	if err != nil {
		return errors.Wrap(err, "listing eligible ranks")
	}
	return ctx.JSON(http.StatusOK, ranks)
}

func (api *rankApi) listConfigurations(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	// students only see the ranks open for grading
	configs, err := api.svc.ListConfigurations(ctx.Request().Context(), !claims.IsStaff())
	if err != nil {
		return errors.Wrap(err, "listing grading configurations")
	}
	if configs == nil {
		configs = []rank.Configuration{}
	}
	return ctx.JSON(http.StatusOK, configs)
}

func (api *rankApi) updateConfiguration(ctx echo.Context) error {
	var data rank.UpdateConfiguration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateConfiguration")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	cfg, err := api.svc.UpdateConfiguration(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating grading configuration")
	}
	return ctx.JSON(http.StatusOK, cfg)
}
