package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chessclub/core/club"
)

type clubApi struct {
	svc  *club.Service
	repo *club.Repository
}

func registerClubAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := clubApi{svc: deps.ClubSvc, repo: deps.Repo}

	ag := g.Group("", jwt)

	sg := ag.Group("/students")
	sg.GET("", api.queryStudents)
	sg.POST("", api.createStudent)
	sg.GET("/:id", api.retrieveStudent)
	sg.PUT("/:id", api.updateStudent)
	sg.PUT("/:id/frozen", api.setFrozen)

	gg := ag.Group("/groups")
	gg.GET("", api.queryGroups)
	gg.POST("", api.createGroup)
	gg.PUT("/:id", api.updateGroup)
	gg.GET("/:id/members", api.queryMembers)
	gg.PUT("/:id/members/:studentID", api.toggleMember)

	pg := ag.Group("/payments")
	pg.GET("", api.queryPayments)
	pg.POST("", api.recordPayment)
	pg.PUT("/:id", api.updatePayment)
	pg.DELETE("/:id", api.deletePayment, ownerMiddleware())

	ag.POST("/bonuses", api.awardBonus)

	rg := ag.Group("/delete-requests")
	rg.GET("", api.queryRequests)
	rg.POST("", api.submitRequest)
	rg.POST("/:id/approve", api.approveRequest, ownerMiddleware())
	rg.POST("/:id/reject", api.rejectRequest, ownerMiddleware())
}

// Students

func (api *clubApi) queryStudents(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.repo.Students())
}

func (api *clubApi) retrieveStudent(ctx echo.Context) error {
	student, ok := api.repo.StudentByID(ctx.Param("id"))
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *clubApi) createStudent(ctx echo.Context) error {
	var data club.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}

	student, err := api.svc.CreateStudent(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, student)
}

func (api *clubApi) updateStudent(ctx echo.Context) error {
	var data club.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}

	student, err := api.svc.UpdateStudent(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *clubApi) setFrozen(ctx echo.Context) error {
	var data struct {
		Frozen bool `json:"frozen"`
	}
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding frozen flag")
	}

	if err := api.svc.SetFrozen(ctx.Param("id"), data.Frozen); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Groups & membership

func (api *clubApi) queryGroups(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.repo.Groups())
}

func (api *clubApi) createGroup(ctx echo.Context) error {
	var data club.NewGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}

	group, err := api.svc.CreateGroup(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, group)
}

func (api *clubApi) updateGroup(ctx echo.Context) error {
	var data club.NewGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}

	group, err := api.svc.UpdateGroup(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, group)
}

func (api *clubApi) queryMembers(ctx echo.Context) error {
	if _, ok := api.repo.GroupByID(ctx.Param("id")); !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, api.repo.ActiveMembers(ctx.Param("id")))
}

func (api *clubApi) toggleMember(ctx echo.Context) error {
	member, err := api.svc.ToggleMember(ctx.Param("id"), ctx.Param("studentID"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"member": member})
}

// Payments & bonuses

func (api *clubApi) queryPayments(ctx echo.Context) error {
	payments := api.repo.Payments()
	if sid := ctx.QueryParam("student_id"); sid != "" {
		filtered := payments[:0]
		for _, p := range payments {
			if p.StudentID == sid {
				filtered = append(filtered, p)
			}
		}
		payments = filtered
	}
	return ctx.JSON(http.StatusOK, payments)
}

func (api *clubApi) recordPayment(ctx echo.Context) error {
	var data club.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}

	payment, err := api.svc.RecordPayment(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, payment)
}

func (api *clubApi) updatePayment(ctx echo.Context) error {
	var data struct {
		Amount int `json:"amount"`
	}
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding payment amount")
	}

	payment, err := api.svc.UpdatePayment(ctx.Param("id"), data.Amount)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, payment)
}

func (api *clubApi) deletePayment(ctx echo.Context) error {
	if err := api.svc.DeletePayment(ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *clubApi) awardBonus(ctx echo.Context) error {
	var data club.NewBonus
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBonus")
	}

	entry, err := api.svc.AwardBonus(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, entry)
}

// Delete requests

func (api *clubApi) queryRequests(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.repo.DeleteRequests())
}

func (api *clubApi) submitRequest(ctx echo.Context) error {
	var data club.NewDeleteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDeleteRequest")
	}

	req, err := api.svc.SubmitDeleteRequest(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *clubApi) approveRequest(ctx echo.Context) error {
	if err := api.svc.ApproveDeleteRequest(ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *clubApi) rejectRequest(ctx echo.Context) error {
	if err := api.svc.RejectDeleteRequest(ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
