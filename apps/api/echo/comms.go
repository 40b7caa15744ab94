package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/core/club"
	"github.com/trezcool/chessclub/services/telegram"
)

type commsApi struct {
	telegram *telegram.Service
	repo     *club.Repository
}

func registerCommsAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := commsApi{telegram: deps.Telegram, repo: deps.Repo}

	cg := g.Group("/telegram", jwt)
	cg.GET("/parents", api.queryParents)
	cg.GET("/logs", api.queryLogs)
	cg.POST("/broadcast", api.broadcast)
}

type BroadcastRequest struct {
	Target    telegram.TargetKind `json:"target" validate:"required,oneof=all group student"`
	TargetIDs []string            `json:"target_ids"`
	Text      string              `json:"text" validate:"required"`
}

func (br *BroadcastRequest) Validate() error {
	br.Text = core.CleanString(br.Text)
	if err := core.Validate.Struct(br); err != nil {
		return err
	}
	if br.Target != telegram.TargetAll && len(br.TargetIDs) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "target_ids", Error: "this field is required"})
	}
	return nil
}

func (api *commsApi) queryParents(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.repo.Parents())
}

func (api *commsApi) queryLogs(ctx echo.Context) error {
	if api.telegram == nil {
		return ctx.JSON(http.StatusOK, []telegram.Log{})
	}
	return ctx.JSON(http.StatusOK, api.telegram.Logs())
}

func (api *commsApi) broadcast(ctx echo.Context) error {
	if api.telegram == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "telegram bot not configured")
	}

	var data BroadcastRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BroadcastRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	sent, failed := api.telegram.Broadcast(data.Target, data.TargetIDs, data.Text)
	return ctx.JSON(http.StatusOK, echo.Map{"sent": sent, "failed": failed})
}
