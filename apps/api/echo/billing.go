package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/chessclub/core/club"
)

type billingApi struct {
	engine *club.BillingEngine
	repo   *club.Repository
}

func registerBillingAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := billingApi{engine: deps.Billing, repo: deps.Repo}

	bg := g.Group("/billing", jwt)
	bg.GET("/accounts", api.accounts)
	bg.POST("/run", api.run)
	bg.GET("/ledger", api.ledger)
}

func (api *billingApi) accounts(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.engine.Accounts())
}

// run executes one billing pass: every student behind on their fee cycle
// gets their missed charges posted. Safe to call repeatedly.
func (api *billingApi) run(ctx echo.Context) error {
	posted, err := api.engine.RunPass()
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"posted": posted})
}

func (api *billingApi) ledger(ctx echo.Context) error {
	entries := api.repo.Ledger()
	if sid := ctx.QueryParam("student_id"); sid != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.StudentID == sid {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	return ctx.JSON(http.StatusOK, entries)
}
