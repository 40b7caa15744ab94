package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/chessclub/core/club"
)

type ratingsApi struct {
	agg *club.Aggregator
}

func registerRatingsAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := ratingsApi{agg: deps.Ratings}

	rg := g.Group("/ratings", jwt)
	rg.GET("/leaderboard", api.leaderboard)
	rg.POST("/reset", api.reset, ownerMiddleware())
}

func (api *ratingsApi) leaderboard(ctx echo.Context) error {
	window := club.Window(ctx.QueryParam("window"))
	if window == "" {
		window = club.WindowLifetime
	}
	if window != club.WindowLifetime && window != club.WindowMonth {
		return echo.NewHTTPError(http.StatusBadRequest, "window must be 'lifetime' or 'month'")
	}
	return ctx.JSON(http.StatusOK, api.agg.Leaderboard(window, ctx.QueryParam("group_id")))
}

// reset wipes all earned rewards, keeping the financial charges intact.
func (api *ratingsApi) reset(ctx echo.Context) error {
	if err := api.agg.ResetRewards(); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
