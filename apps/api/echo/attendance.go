package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/core/club"
	"github.com/trezcool/chessclub/services/faceid"
)

type attendanceApi struct {
	engine *club.AttendanceEngine
	repo   *club.Repository
	faceID *faceid.Service
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := attendanceApi{engine: deps.Attendance, repo: deps.Repo, faceID: deps.FaceID}

	ag := g.Group("/sessions", jwt)
	ag.POST("/open", api.open)
	ag.GET("/:id/records", api.records)
	ag.POST("/:id/records", api.mark)
	ag.POST("/:id/close", api.close)
	ag.POST("/:id/identify", api.identify)
}

type (
	OpenSessionRequest struct {
		GroupID string `json:"group_id" validate:"required"`
		Date    string `json:"date" validate:"required"`
	}

	MarkRequest struct {
		StudentID string      `json:"student_id" validate:"required"`
		Status    club.Status `json:"status" validate:"required"`
	}

	IdentifyRequest struct {
		Image string `json:"image" validate:"required"`
	}

	IdentifyResponse struct {
		Match      *club.Student `json:"match"`
		Confidence float64       `json:"confidence,omitempty"`
	}
)

func (or *OpenSessionRequest) Validate() error { return core.Validate.Struct(or) }
func (mr *MarkRequest) Validate() error        { return core.Validate.Struct(mr) }
func (ir *IdentifyRequest) Validate() error    { return core.Validate.Struct(ir) }

func (api *attendanceApi) open(ctx echo.Context) error {
	var data OpenSessionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OpenSessionRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	session, err := api.engine.Open(data.GroupID, data.Date)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, session)
}

func (api *attendanceApi) records(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.engine.SessionRecords(ctx.Param("id")))
}

func (api *attendanceApi) mark(ctx echo.Context) error {
	var data MarkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	record, err := api.engine.Mark(ctx.Param("id"), data.StudentID, data.Status)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, record)
}

func (api *attendanceApi) close(ctx echo.Context) error {
	if err := api.engine.Close(ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// identify matches a kiosk snapshot against the session group's enrolled
// faces and returns the matched student, or null when nobody clears the
// confidence floor.
func (api *attendanceApi) identify(ctx echo.Context) error {
	if api.faceID == nil || !api.faceID.Enabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "face identification not configured")
	}

	var data IdentifyRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IdentifyRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	sessions := api.repo.Sessions()
	var groupID string
	for _, s := range sessions {
		if s.ID == ctx.Param("id") {
			groupID = s.GroupID
			break
		}
	}
	if groupID == "" {
		return club.ErrSessionNotFound
	}

	var candidates []faceid.Candidate
	members := api.repo.ActiveMembers(groupID)
	for _, m := range members {
		if m.FacePhoto != "" {
			candidates = append(candidates, faceid.Candidate{StudentID: m.ID, Photo: m.FacePhoto})
		}
	}

	match, err := api.faceID.Identify(ctx.Request().Context(), data.Image, candidates)
	if err != nil {
		return errors.Wrap(err, "identifying face")
	}
	if match == nil {
		return ctx.JSON(http.StatusOK, IdentifyResponse{})
	}

	student, ok := api.repo.StudentByID(match.StudentID)
	if !ok {
		return ctx.JSON(http.StatusOK, IdentifyResponse{})
	}
	return ctx.JSON(http.StatusOK, IdentifyResponse{Match: &student, Confidence: match.Confidence})
}
