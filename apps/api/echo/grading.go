package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/grading"
)

type gradingApi struct {
	ServerDeps
	svc grading.ServiceInterface
}

func registerGradingAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := gradingApi{ServerDeps: deps, svc: deps.GradingSvc}

	gg := g.Group("/gradings", jwt, activeUserMiddleware(deps.UserSvc))
	gg.POST("", api.apply)
	gg.GET("/mine", api.listMine)
	gg.GET("", api.query, staffMiddleware())
	gg.GET("/stats", api.stats, staffMiddleware())
	gg.GET("/:id", api.retrieve)
	gg.POST("/:id/approve", api.approve, staffMiddleware())
	gg.POST("/:id/reject", api.reject, staffMiddleware())
	gg.POST("/:id/assign", api.assign, staffMiddleware())
	gg.POST("/:id/unassign", api.unassign, staffMiddleware())
	gg.POST("/:id/result", api.recordResult, staffMiddleware())
}

func studentView(gradings []grading.Grading) []grading.Grading {
	view := make([]grading.Grading, 0, len(gradings))
	for _, g := range gradings {
		view = append(view, g.ForStudent())
	}
	return view
}

func (api *gradingApi) apply(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !usr.IsStudent() {
		return errHttpForbidden
	}

	var data grading.NewApplication
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewApplication")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	g, err := api.svc.Apply(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "applying for grading")
	}
	return ctx.JSON(http.StatusCreated, g.ForStudent())
}

func (api *gradingApi) listMine(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	gradings, err := api.svc.ListForStudent(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing student gradings")
	}
	return ctx.JSON(http.StatusOK, studentView(gradings))
}

func (api *gradingApi) query(ctx echo.Context) error {
	filter := new(grading.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []grading.Grading{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	gradings, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying gradings")
	}
	if gradings == nil {
		gradings = []grading.Grading{}
	}
	return ctx.JSON(http.StatusOK, gradings)
}

func (api *gradingApi) stats(ctx echo.Context) error {
	filter := new(grading.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	stats, err := api.svc.Stats(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "computing grading stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// retrieve returns the grading to staff, or to the student it belongs to.
func (api *gradingApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	g, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding grading")
	}
	switch {
	case usr.IsStaff():
		return ctx.JSON(http.StatusOK, g)
	case g.StudentID == usr.ID:
		return ctx.JSON(http.StatusOK, g.ForStudent())
	}
	return errHttpNotFound
}

func (api *gradingApi) approve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	g, err := api.svc.ApproveApplication(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "approving application")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *gradingApi) reject(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data grading.RejectApplication
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectApplication")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	g, err := api.svc.RejectApplication(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "rejecting application")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *gradingApi) assign(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data grading.AssignPeriod
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssignPeriod")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	g, err := api.svc.AssignPeriod(ctx.Request().Context(), ctx.Param("id"), data.PeriodID, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "assigning grading period")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *gradingApi) unassign(ctx echo.Context) error {
	g, err := api.svc.UnassignPeriod(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "unassigning grading period")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *gradingApi) recordResult(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data grading.Decision
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Decision")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	g, err := api.svc.RecordResult(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "recording grading result")
	}
	return ctx.JSON(http.StatusOK, g)
}

type periodApi struct {
	ServerDeps
	svc grading.ServiceInterface
}

func registerPeriodAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := periodApi{ServerDeps: deps, svc: deps.GradingSvc}

	pg := g.Group("/periods", jwt)
	pg.GET("", api.list)
	pg.POST("", api.create, staffMiddleware())
	pg.GET("/:id", api.retrieve)
	pg.PUT("/:id", api.update, staffMiddleware())
	pg.DELETE("/:id", api.destroy, staffMiddleware())
	pg.PUT("/:id/status", api.setStatus, staffMiddleware())
	pg.GET("/:id/gradings", api.gradings, staffMiddleware())
	pg.POST("/:id/results", api.bulkResults, staffMiddleware())
}

func (api *periodApi) list(ctx echo.Context) error {
	var filter grading.PeriodFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []grading.Period{})
	}
	filter.Status = core.CleanString(filter.Status)
	ordering := new(Ordering)
	ordering.Bind(ctx)

	periods, err := api.svc.ListPeriods(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "listing grading periods")
	}
	if periods == nil {
		periods = []grading.Period{}
	}
	return ctx.JSON(http.StatusOK, periods)
}

func (api *periodApi) create(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data grading.NewPeriod
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPeriod")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	p, err := api.svc.CreatePeriod(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "creating grading period")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *periodApi) retrieve(ctx echo.Context) error {
	p, err := api.svc.GetPeriod(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding grading period")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *periodApi) update(ctx echo.Context) error {
	var data grading.UpdatePeriod
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePeriod")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	p, err := api.svc.UpdatePeriod(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating grading period")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *periodApi) setStatus(ctx echo.Context) error {
	var data grading.UpdatePeriodStatus
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePeriodStatus")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	p, err := api.svc.SetPeriodStatus(ctx.Request().Context(), ctx.Param("id"), data.Status)
	if err != nil {
		return errors.Wrap(err, "setting grading period status")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *periodApi) destroy(ctx echo.Context) error {
	if err := api.svc.DeletePeriod(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting grading period")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *periodApi) gradings(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	p, err := api.svc.GetPeriod(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding grading period")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	gradings, err := api.svc.Query(reqCtx, &grading.QueryFilter{PeriodID: p.ID}, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying period gradings")
	}
	if gradings == nil {
		gradings = []grading.Grading{}
	}
	return ctx.JSON(http.StatusOK, gradings)
}

func (api *periodApi) bulkResults(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data grading.BulkDecisions
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkDecisions")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	results, err := api.svc.BulkRecordResult(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data.Decisions)
	if err != nil {
		return errors.Wrap(err, "recording grading results")
	}
	return ctx.JSON(http.StatusOK, results)
}
