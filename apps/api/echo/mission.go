package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sierrawings/backend/core/mission"
	"github.com/sierrawings/backend/core/notification"
	"github.com/sierrawings/backend/core/user"
)

type (
	RejectMissionRequest struct {
		Reason string `json:"reason"`
	}

	AssignDroneRequest struct {
		DroneID string `json:"drone_id" validate:"required"`
	}

	FailMissionRequest struct {
		Reason string `json:"reason"`
	}
)

type missionApi struct {
	auth  *jwtAuth
	svc   *mission.Service
	notif *notification.Dispatcher
}

func registerMissionAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *jwtAuth, svc *mission.Service, notif *notification.Dispatcher) {
	api := missionApi{auth: auth, svc: svc, notif: notif}

	mg := g.Group("/missions", jwt)
	mg.POST("", api.missionCreate)
	mg.GET("", api.missionQuery)
	mg.GET("/:id", api.missionRetrieve)
	mg.GET("/:id/events", api.missionEvents, roleMiddleware(user.RoleAdmin))

	// transitions; capability checks live in the service
	mg.POST("/:id/accept", api.missionAccept)
	mg.POST("/:id/reject", api.missionReject)
	mg.POST("/:id/assign", api.missionAssignDrone)
	mg.POST("/:id/launch", api.missionLaunch)
	mg.POST("/:id/deliver", api.missionDeliver)
	mg.POST("/:id/fail", api.missionFail)
}

// Handlers

func (api *missionApi) missionCreate(ctx echo.Context) error {
	actor, err := api.auth.getContextUser(ctx)
	if err != nil {
		return err
	}
	if !actor.EmailVerified {
		return errEmailNotVerified
	}

	data := new(mission.NewMission)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	if err = data.Validate(); err != nil {
		return err
	}

	m, err := api.svc.Request(ctx.Request().Context(), actor, *data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, m)
}

// missionQuery lists missions scoped to the caller: patients see their own,
// clinics see missions they handle plus the open request pool, admins see all.
func (api *missionApi) missionQuery(ctx echo.Context) error {
	actor, err := api.auth.getContextUser(ctx)
	if err != nil {
		return err
	}

	filter := mission.QueryFilter{Status: mission.Status(ctx.QueryParam("status"))}
	switch actor.Role {
	case user.RolePatient:
		filter.PatientID = actor.ID
	case user.RoleClinic:
		if filter.Status == "" && ctx.QueryParam("pool") == "true" {
			filter.Status = mission.StatusRequested
		} else {
			filter.ClinicID = actor.ID
		}
	case user.RoleAdmin:
		filter.PatientID = ctx.QueryParam("patient_id")
		filter.ClinicID = ctx.QueryParam("clinic_id")
	default:
		return errHttpForbidden
	}

	missions, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, missions)
}

func (api *missionApi) missionRetrieve(ctx echo.Context) error {
	actor, err := api.auth.getContextUser(ctx)
	if err != nil {
		return err
	}

	m, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	if !canViewMission(actor, m) {
		return errHttpForbidden
	}
	return ctx.JSON(http.StatusOK, m)
}

// missionEvents exposes the notification delivery audit trail for a mission.
func (api *missionApi) missionEvents(ctx echo.Context) error {
	if _, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	events, err := api.notif.EventsByMission(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, events)
}

func (api *missionApi) missionAccept(ctx echo.Context) error {
	return api.transition(ctx, func(actor user.User, id string) (mission.Mission, error) {
		return api.svc.Accept(ctx.Request().Context(), actor, id)
	})
}

func (api *missionApi) missionReject(ctx echo.Context) error {
	data := new(RejectMissionRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	return api.transition(ctx, func(actor user.User, id string) (mission.Mission, error) {
		return api.svc.Reject(ctx.Request().Context(), actor, id, data.Reason)
	})
}

func (api *missionApi) missionAssignDrone(ctx echo.Context) error {
	data := new(AssignDroneRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	return api.transition(ctx, func(actor user.User, id string) (mission.Mission, error) {
		return api.svc.AssignDrone(ctx.Request().Context(), actor, id, data.DroneID)
	})
}

func (api *missionApi) missionLaunch(ctx echo.Context) error {
	return api.transition(ctx, func(actor user.User, id string) (mission.Mission, error) {
		return api.svc.MarkInTransit(ctx.Request().Context(), actor, id)
	})
}

func (api *missionApi) missionDeliver(ctx echo.Context) error {
	return api.transition(ctx, func(actor user.User, id string) (mission.Mission, error) {
		return api.svc.MarkDelivered(ctx.Request().Context(), actor, id)
	})
}

func (api *missionApi) missionFail(ctx echo.Context) error {
	data := new(FailMissionRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	return api.transition(ctx, func(actor user.User, id string) (mission.Mission, error) {
		return api.svc.MarkFailed(ctx.Request().Context(), actor, id, data.Reason)
	})
}

func (api *missionApi) transition(ctx echo.Context, do func(actor user.User, id string) (mission.Mission, error)) error {
	actor, err := api.auth.getContextUser(ctx)
	if err != nil {
		return err
	}

	m, err := do(actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, m)
}

func canViewMission(actor user.User, m mission.Mission) bool {
	switch actor.Role {
	case user.RoleAdmin:
		return true
	case user.RolePatient:
		return m.PatientID == actor.ID
	case user.RoleClinic:
		return m.Status == mission.StatusRequested || m.ClinicID.String == actor.ID
	}
	return false
}
