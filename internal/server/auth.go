package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/friendlyhq/friendly/internal/helpers"
	"github.com/friendlyhq/friendly/internal/runtime"
	"github.com/friendlyhq/friendly/internal/store"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	Store            *store.Store
	Secret           []byte
	AdminInviteToken string
	SecureCookies    bool
}

func (a *AuthHandler) Register(g *echo.Group, secret []byte) {
	g.POST("/register", a.register)
	g.POST("/login", a.login)

	protected := g.Group("")
	protected.Use(runtime.EchoAuthMiddleware(secret))
	protected.POST("/logout", a.logout, requireCSRF())
	protected.GET("/me", a.me)
}

func (a *AuthHandler) register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	username := helpers.SanitizeText(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username required")
	}
	if !emailRe.MatchString(email) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email address")
	}
	if len(req.Password) < 8 {
		return echo.NewHTTPError(http.StatusBadRequest, "password must be at least 8 characters")
	}

	role := store.UserRoleUser
	if req.AdminInviteToken != "" {
		if a.AdminInviteToken == "" || req.AdminInviteToken != a.AdminInviteToken {
			return echo.NewHTTPError(http.StatusForbidden, "invalid admin invite token")
		}
		role = store.UserRoleAdmin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	user, err := a.Store.CreateUser(c.Request().Context(), username, email, string(hash), role)
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return echo.NewHTTPError(http.StatusConflict, "email already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := a.issueSession(c, user.ID, role); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusCreated, toUserResponse(user), "registered")
}

func (a *AuthHandler) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password required")
	}
	user, err := a.Store.GetUserByEmail(c.Request().Context(), email)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err := a.issueSession(c, user.ID, user.Role); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, toUserResponse(user), "logged in")
}

func (a *AuthHandler) logout(c echo.Context) error {
	a.clearCookie(c, "auth", true)
	a.clearCookie(c, csrfCookieName, false)
	return respond(c, http.StatusOK, nil, "logged out")
}

func (a *AuthHandler) me(c echo.Context) error {
	userID := c.Get("user_id").(string)
	user, err := a.Store.GetUserByID(c.Request().Context(), userID)
	if err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, toUserResponse(user), "")
}

// issueSession sets the JWT auth cookie plus a readable CSRF token cookie. The
// Authorization header is also populated for Bearer clients.
func (a *AuthHandler) issueSession(c echo.Context, userID, role string) error {
	signed, err := runtime.SignJWT(userID, role, a.Secret, tokenTTL)
	if err != nil {
		return err
	}
	a.setCookie(c, "auth", signed, true)

	csrf, err := randomToken()
	if err != nil {
		return err
	}
	a.setCookie(c, csrfCookieName, csrf, false)
	c.Response().Header().Set("Authorization", "Bearer "+signed)
	return nil
}

func (a *AuthHandler) setCookie(c echo.Context, name, value string, httpOnly bool) {
	cookie := new(http.Cookie)
	cookie.Name = name
	cookie.Value = value
	cookie.Path = "/"
	cookie.HttpOnly = httpOnly
	cookie.SameSite = http.SameSiteLaxMode
	cookie.Secure = a.SecureCookies
	cookie.Expires = time.Now().Add(tokenTTL)
	c.SetCookie(cookie)
}

func (a *AuthHandler) clearCookie(c echo.Context, name string, httpOnly bool) {
	cookie := new(http.Cookie)
	cookie.Name = name
	cookie.Value = ""
	cookie.Path = "/"
	cookie.HttpOnly = httpOnly
	cookie.MaxAge = -1
	c.SetCookie(cookie)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
