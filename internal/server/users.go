package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/friendlyhq/friendly/internal/runtime"
	"github.com/friendlyhq/friendly/internal/store"
)

type UsersHandler struct {
	Store *store.Store
}

func (h *UsersHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret), runtime.RequireAdmin())
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *UsersHandler) list(c echo.Context) error {
	limit, offset := pageParams(c)
	users, total, err := h.Store.ListUsers(c.Request().Context(), c.QueryParam("search"), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]UserResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}
	return respond(c, http.StatusOK, PageResponse{Items: items, Total: total}, "")
}

func (h *UsersHandler) get(c echo.Context) error {
	user, err := h.Store.GetUserByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, toUserResponse(user), "")
}
