// Package echo exposes the broker over HTTP. Routing is deliberately
// thin: subject identity arrives from the fronting gateway in the
// X-Forwarded-User header, and every flow decision lives in the broker
// service.
package echo

import (
	stderrors "errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/oauth-broker/errors"
	"go.pilab.hu/oauth-broker/services"
)

// subjectHeader carries the gateway-authenticated end-user identity.
const subjectHeader = "X-Forwarded-User"

// BrokerAPI holds the HTTP handlers for the OAuth broker.
type BrokerAPI struct {
	broker *services.BrokerService
	health func(c echo.Context) error
}

// NewBrokerAPI initializes the broker API. healthCheck probes the durable
// store and may be nil.
func NewBrokerAPI(broker *services.BrokerService, healthCheck func(c echo.Context) error) *BrokerAPI {
	return &BrokerAPI{
		broker: broker,
		health: healthCheck,
	}
}

// RegisterRoutes registers the broker routes.
func (a *BrokerAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/oauth/authorize/:provider", a.AuthorizeHandler)
	e.GET("/api/oauth/callback/:provider", a.CallbackHandler)
	e.POST("/api/oauth/refresh/:provider", a.RefreshHandler)
	e.GET("/api/oauth/me/:provider", a.UserInfoHandler)
	e.DELETE("/api/oauth/token/:provider", a.RevokeHandler)
	e.GET("/api/oauth/providers", a.ProvidersHandler)
	e.GET("/healthz", a.HealthHandler)
}

// AuthorizeHandler starts the flow and redirects the user agent to the
// provider's authorize page.
func (a *BrokerAPI) AuthorizeHandler(c echo.Context) error {
	provider := c.Param("provider")
	returnTo := c.QueryParam("return_to")

	redirect, err := a.broker.Authorize(c.Request().Context(), provider, returnTo)
	if err != nil {
		return writeError(c, err)
	}
	return c.Redirect(http.StatusFound, redirect)
}

// CallbackHandler completes the flow after the provider redirects back.
func (a *BrokerAPI) CallbackHandler(c echo.Context) error {
	provider := c.Param("provider")

	// Providers report user denial and their own errors via query params.
	if provErr := c.QueryParam("error"); provErr != "" {
		return c.JSON(http.StatusBadRequest, errorBody(provErr, c.QueryParam("error_description")))
	}

	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "code and state are required"))
	}

	subject, err := requireSubject(c)
	if err != nil {
		return err
	}

	result, err := a.broker.Callback(c.Request().Context(), subject, provider, code, state)
	if err != nil {
		return writeError(c, err)
	}

	target := result.ReturnContext
	if target == "" {
		target = "/"
	}
	return c.Redirect(http.StatusFound, target)
}

// RefreshHandler forces the token to be valid now, refreshing if needed,
// and reports the new expiry. The token itself is never returned here.
func (a *BrokerAPI) RefreshHandler(c echo.Context) error {
	subject, err := requireSubject(c)
	if err != nil {
		return err
	}

	_, record, err := a.broker.GetValidAccessToken(c.Request().Context(), subject, c.Param("provider"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"provider":          record.Provider,
		"access_expires_at": record.AccessExpiresAt,
		"scope":             record.Scope,
	})
}

// UserInfoHandler returns the normalized provider profile.
func (a *BrokerAPI) UserInfoHandler(c echo.Context) error {
	subject, err := requireSubject(c)
	if err != nil {
		return err
	}

	info, err := a.broker.UserInfo(c.Request().Context(), subject, c.Param("provider"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// RevokeHandler deletes the stored tokens for the subject.
func (a *BrokerAPI) RevokeHandler(c echo.Context) error {
	subject, err := requireSubject(c)
	if err != nil {
		return err
	}

	if err := a.broker.Revoke(c.Request().Context(), subject, c.Param("provider")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ProvidersHandler lists the registered provider names.
func (a *BrokerAPI) ProvidersHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"providers": a.broker.Providers(),
	})
}

// HealthHandler reports broker liveness, probing the durable store when a
// health check was provided.
func (a *BrokerAPI) HealthHandler(c echo.Context) error {
	if a.health != nil {
		if err := a.health(c); err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorBody("unhealthy", err.Error()))
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func requireSubject(c echo.Context) (string, error) {
	subject := c.Request().Header.Get(subjectHeader)
	if subject == "" {
		// Must be a non-nil error so callers stop before any flow logic
		// runs for the empty subject.
		return "", echo.NewHTTPError(http.StatusUnauthorized, errorBody("unauthorized", "missing authenticated subject"))
	}
	return subject, nil
}

func errorBody(code, description string) map[string]string {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	return body
}

// writeError maps broker errors onto HTTP statuses. InvalidState responses
// carry no detail beyond the code so verification failures stay
// indistinguishable to the caller.
func writeError(c echo.Context, err error) error {
	switch {
	case stderrors.Is(err, errors.ErrUnknownProvider):
		return c.JSON(http.StatusNotFound, errorBody("unknown_provider", ""))
	case stderrors.Is(err, errors.ErrInvalidState):
		return c.JSON(http.StatusBadRequest, errorBody("invalid_state", ""))
	case stderrors.Is(err, errors.ErrInvalidReturnTarget):
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "return target not allowed"))
	case stderrors.Is(err, errors.ErrReauthRequired):
		return c.JSON(http.StatusConflict, errorBody("reauth_required", ""))
	case stderrors.Is(err, errors.ErrExchangeFailed),
		stderrors.Is(err, errors.ErrRefreshFailed),
		stderrors.Is(err, errors.ErrUserInfoFailed):
		return c.JSON(http.StatusBadGateway, errorBody("upstream_provider_error", ""))
	case stderrors.Is(err, errors.ErrSecretUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorBody("temporarily_unavailable", ""))
	default:
		log.Error().Err(err).Msg("Unhandled broker error")
		return c.JSON(http.StatusInternalServerError, errorBody("server_error", ""))
	}
}
