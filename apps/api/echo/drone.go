package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sierrawings/backend/core/drone"
	"github.com/sierrawings/backend/core/user"
)

type (
	DroneStatusRequest struct {
		Status string `json:"status" validate:"required"`
	}

	DroneHeartbeatRequest struct {
		BatteryLevel int `json:"battery_level"`
	}
)

type droneApi struct {
	auth *jwtAuth
	svc  *drone.Service
}

func registerDroneAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *jwtAuth, svc *drone.Service) {
	api := droneApi{auth: auth, svc: svc}

	dg := g.Group("/drones", jwt)
	dg.POST("/:id/heartbeat", api.droneHeartbeat) // telemetry relays hold system tokens

	adg := dg.Group("", roleMiddleware(user.RoleAdmin))
	adg.POST("", api.droneCreate)
	adg.GET("", api.droneQuery)
	adg.GET("/:id", api.droneRetrieve)
	adg.PUT("/:id/status", api.droneSetStatus)
}

// Handlers

func (api *droneApi) droneCreate(ctx echo.Context) error {
	data := new(drone.NewDrone)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	if err := data.Validate(); err != nil {
		return err
	}

	d, err := api.svc.Register(ctx.Request().Context(), *data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, d)
}

func (api *droneApi) droneQuery(ctx echo.Context) error {
	var (
		drones []drone.Drone
		err    error
	)
	if status := ctx.QueryParam("status"); status != "" {
		if status == drone.StatusAvailable {
			drones, err = api.svc.QueryAvailable(ctx.Request().Context())
		} else {
			drones, err = api.svc.Query(ctx.Request().Context(), status)
		}
	} else {
		drones, err = api.svc.QueryAll(ctx.Request().Context())
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, drones)
}

func (api *droneApi) droneRetrieve(ctx echo.Context) error {
	d, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *droneApi) droneSetStatus(ctx echo.Context) error {
	data := new(DroneStatusRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}

	d, err := api.svc.SetStatus(ctx.Request().Context(), ctx.Param("id"), data.Status)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *droneApi) droneHeartbeat(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if claims.Role != user.RoleAdmin && claims.Role != user.RoleSystem {
		return errHttpForbidden
	}

	data := new(DroneHeartbeatRequest)
	if err = ctx.Bind(data); err != nil {
		return err
	}

	d, err := api.svc.Heartbeat(ctx.Request().Context(), ctx.Param("id"), data.BatteryLevel)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}
