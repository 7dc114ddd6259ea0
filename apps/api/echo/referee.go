package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/referee"
)

const defaultFlashcardLimit = 20

type refereeApi struct {
	ServerDeps
	svc referee.ServiceInterface
}

func registerRefereeAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := refereeApi{ServerDeps: deps, svc: deps.RefereeSvc}

	rg := g.Group("/referee", jwt, activeUserMiddleware(deps.UserSvc))
	rg.GET("/banks", api.listBanks)
	rg.POST("/banks", api.createBank, adminMiddleware())
	rg.PUT("/banks/:id/active", api.setBankActive, adminMiddleware())
	rg.GET("/banks/:id/questions", api.listQuestions, staffMiddleware())
	rg.POST("/banks/:id/questions", api.addQuestions, adminMiddleware())
	rg.POST("/banks/:id/quiz", api.startQuiz)
	rg.POST("/banks/:id/quiz/submit", api.submitQuiz)
	rg.GET("/banks/:id/flashcards", api.dueFlashcards)
	rg.POST("/flashcards/:id/review", api.reviewFlashcard)
	rg.GET("/attempts", api.listAttempts)
	rg.GET("/progress", api.progress)
	rg.GET("/rules", api.listRules)
	rg.POST("/rules", api.createRule, adminMiddleware())
}

func (api *refereeApi) listBanks(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	banks, err := api.svc.ListBanks(ctx.Request().Context(), !claims.IsAdmin)
	if err != nil {
		return errors.Wrap(err, "listing question banks")
	}
	if banks == nil {
		banks = []referee.QuestionBank{}
	}
	return ctx.JSON(http.StatusOK, banks)
}

func (api *refereeApi) createBank(ctx echo.Context) error {
	var data referee.NewBank
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBank")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	b, err := api.svc.CreateBank(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating question bank")
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *refereeApi) setBankActive(ctx echo.Context) error {
	var data referee.SetBankActive
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetBankActive")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	b, err := api.svc.SetBankActive(ctx.Request().Context(), ctx.Param("id"), *data.IsActive)
	if err != nil {
		return errors.Wrap(err, "setting question bank active")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *refereeApi) listQuestions(ctx echo.Context) error {
	questions, err := api.svc.ListQuestions(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing questions")
	}
	if questions == nil {
		questions = []referee.Question{}
	}
	return ctx.JSON(http.StatusOK, questions)
}

func (api *refereeApi) addQuestions(ctx echo.Context) error {
	var data referee.NewQuestions
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestions")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	questions, err := api.svc.AddQuestions(ctx.Request().Context(), ctx.Param("id"), data.Questions)
	if err != nil {
		return errors.Wrap(err, "adding questions")
	}
	return ctx.JSON(http.StatusCreated, questions)
}

func (api *refereeApi) startQuiz(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data referee.StartQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartQuiz")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	quiz, err := api.svc.StartQuiz(ctx.Request().Context(), claims.Subject, ctx.Param("id"), data.Size)
	if err != nil {
		return errors.Wrap(err, "starting quiz")
	}
	return ctx.JSON(http.StatusOK, quiz)
}

func (api *refereeApi) submitQuiz(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data referee.Submission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Submission")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	result, err := api.svc.SubmitQuiz(ctx.Request().Context(), claims.Subject, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting quiz")
	}
	return ctx.JSON(http.StatusCreated, result)
}

func (api *refereeApi) dueFlashcards(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	limit := queryInt(ctx, "limit", defaultFlashcardLimit)

	cards, err := api.svc.DueFlashcards(ctx.Request().Context(), claims.Subject, ctx.Param("id"), limit)
	if err != nil {
		return errors.Wrap(err, "listing due flashcards")
	}
	if cards == nil {
		cards = []referee.Flashcard{}
	}
	return ctx.JSON(http.StatusOK, cards)
}

func (api *refereeApi) reviewFlashcard(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data referee.FlashcardReview
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FlashcardReview")
	}
	if err = data.Validate(api.Validate); err != nil {
		return err
	}

	fp, err := api.svc.ReviewFlashcard(ctx.Request().Context(), claims.Subject, ctx.Param("id"), *data.Correct)
	if err != nil {
		return errors.Wrap(err, "reviewing flashcard")
	}
	return ctx.JSON(http.StatusOK, fp)
}

func (api *refereeApi) listAttempts(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var filter referee.AttemptFilter
	if err = ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []referee.QuizAttempt{})
	}
	filter.UserID = claims.Subject
	filter.BankID = core.CleanString(filter.BankID)

	attempts, err := api.svc.ListAttempts(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "listing quiz attempts")
	}
	if attempts == nil {
		attempts = []referee.QuizAttempt{}
	}
	return ctx.JSON(http.StatusOK, attempts)
}

func (api *refereeApi) progress(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	stats, err := api.svc.ProgressStats(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "computing study progress")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *refereeApi) listRules(ctx echo.Context) error {
	category := core.CleanString(ctx.QueryParam("category"), true /* lower */)
	docs, err := api.svc.ListRuleDocuments(ctx.Request().Context(), category)
	if err != nil {
		return errors.Wrap(err, "listing rule documents")
	}
	if docs == nil {
		docs = []referee.RuleDocument{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *refereeApi) createRule(ctx echo.Context) error {
	var data referee.NewRuleDocument
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRuleDocument")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	doc, err := api.svc.CreateRuleDocument(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating rule document")
	}
	return ctx.JSON(http.StatusCreated, doc)
}
