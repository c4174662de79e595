package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sierrawings/backend/core/user"
)

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	VerifyEmailRequest struct {
		Code string `json:"code" validate:"required,len=6"`
	}
)

type userApi struct {
	auth *jwtAuth
	svc  *user.Service
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *jwtAuth, svc *user.Service) {
	api := userApi{auth: auth, svc: svc}

	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/register", api.userRegister)
	ug.POST("/login", api.userLogin)

	// authed endpoints
	ag := ug.Group("", jwt)
	ag.POST("/token-refresh", api.userRefreshToken)
	ag.GET("/me", api.userRetrieveSelf)
	ag.PUT("/me", api.userUpdateSelf)
	ag.POST("/verify-email", api.userVerifyEmail)
	ag.POST("/resend-verification", api.userResendVerification)

	// admin endpoints
	adg := ag.Group("", roleMiddleware(user.RoleAdmin))
	adg.GET("", api.userQuery)
	adg.POST("/:id/verify-clinic", api.userVerifyClinic)
	adg.PUT("/:id", api.userUpdate)
}

// Handlers

func (api *userApi) userRegister(ctx echo.Context) error {
	data := new(user.NewUser)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	if err := data.Validate(); err != nil {
		return err
	}

	usr, err := api.svc.Register(ctx.Request().Context(), *data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) userLogin(ctx echo.Context) error {
	data := new(LoginRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}

	usr, err := api.svc.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		return err
	}

	token, err := api.auth.generateToken(api.auth.getUserClaims(usr))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, User: usr})
}

func (api *userApi) userRefreshToken(ctx echo.Context) error {
	token, err := api.auth.refreshToken(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *userApi) userRetrieveSelf(ctx echo.Context) error {
	usr, err := api.auth.getContextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) userUpdateSelf(ctx echo.Context) error {
	usr, err := api.auth.getContextUser(ctx)
	if err != nil {
		return err
	}

	data := new(user.UpdateUser)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	// activation status can only be changed by an admin
	if data.IsActive != nil {
		return errHttpForbidden
	}
	if err = data.Validate(); err != nil {
		return err
	}

	usr, err = api.svc.Update(ctx.Request().Context(), usr, *data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) userVerifyEmail(ctx echo.Context) error {
	usr, err := api.auth.getContextUser(ctx)
	if err != nil {
		return err
	}

	data := new(VerifyEmailRequest)
	if err = ctx.Bind(data); err != nil {
		return err
	}

	usr, err = api.svc.VerifyEmail(ctx.Request().Context(), usr, data.Code)
	if err != nil {
		return err
	}
	ctx.Set(contextUserKey, usr)
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) userResendVerification(ctx echo.Context) error {
	usr, err := api.auth.getContextUser(ctx)
	if err != nil {
		return err
	}

	if _, err = api.svc.ResendVerification(ctx.Request().Context(), usr); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusAccepted)
}

func (api *userApi) userQuery(ctx echo.Context) error {
	filter := user.QueryFilter{
		Search: ctx.QueryParam("search"),
		Role:   ctx.QueryParam("role"),
	}
	users, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) userVerifyClinic(ctx echo.Context) error {
	usr, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}

	usr, err = api.svc.VerifyClinic(ctx.Request().Context(), usr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) userUpdate(ctx echo.Context) error {
	usr, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}

	data := new(user.UpdateUser)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	if err = data.Validate(); err != nil {
		return err
	}

	usr, err = api.svc.Update(ctx.Request().Context(), usr, *data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}
