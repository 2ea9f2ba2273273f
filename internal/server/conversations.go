package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/friendlyhq/friendly/internal/rag"
	"github.com/friendlyhq/friendly/internal/runtime"
	"github.com/friendlyhq/friendly/internal/store"
)

// Responder is the conversation loop the handlers hand user turns to.
type Responder interface {
	Respond(ctx context.Context, conversationID, content string, topK int) (rag.Turn, error)
}

type ConversationsHandler struct {
	Store        *store.Store
	Orchestrator Responder
	CreateTopK   int
	FollowupTopK int
}

func (h *ConversationsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/admin/all", h.listAll, runtime.RequireAdmin())
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/messages", h.sendMessage)
}

func (h *ConversationsHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	conv, err := h.Store.CreateConversation(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.Message != "" {
		if _, err := h.Orchestrator.Respond(ctx, conv.ID, req.Message, h.CreateTopK); err != nil {
			if errors.Is(err, rag.ErrEmptyMessage) {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	conv, err = h.Store.GetConversation(ctx, conv.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusCreated, toConversationResponse(conv), "conversation created")
}

func (h *ConversationsHandler) sendMessage(c echo.Context) error {
	conv, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	turn, err := h.Orchestrator.Respond(c.Request().Context(), conv.ID, req.Content, h.FollowupTopK)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyMessage) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, map[string]MessageResponse{
		"userMessage": toMessageResponse(turn.UserMessage),
		"aiMessage":   toMessageResponse(turn.AIMessage),
	}, "")
}

func (h *ConversationsHandler) get(c echo.Context) error {
	conv, err := h.authorize(c)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, toConversationResponse(*conv), "")
}

func (h *ConversationsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	limit, offset := pageParams(c)
	convs, total, err := h.Store.ListConversations(c.Request().Context(), userID, c.QueryParam("search"), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]ConversationResponse, 0, len(convs))
	for _, cv := range convs {
		items = append(items, toConversationResponse(cv))
	}
	return respond(c, http.StatusOK, PageResponse{Items: items, Total: total}, "")
}

func (h *ConversationsHandler) listAll(c echo.Context) error {
	limit, offset := pageParams(c)
	convs, total, err := h.Store.ListConversations(c.Request().Context(), "", c.QueryParam("search"), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]ConversationResponse, 0, len(convs))
	for _, cv := range convs {
		items = append(items, toConversationResponse(cv))
	}
	return respond(c, http.StatusOK, PageResponse{Items: items, Total: total}, "")
}

func (h *ConversationsHandler) delete(c echo.Context) error {
	conv, err := h.authorize(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteConversation(c.Request().Context(), conv.ID); err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, nil, "conversation deleted")
}

// authorize loads the conversation and checks the caller owns it. Admins may
// access any conversation.
func (h *ConversationsHandler) authorize(c echo.Context) (*store.Conversation, error) {
	conv, err := h.Store.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	userID := c.Get("user_id").(string)
	role, _ := c.Get("role").(string)
	if conv.UserID != userID && role != store.UserRoleAdmin {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not your conversation")
	}
	return &conv, nil
}
