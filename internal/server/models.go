package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/friendlyhq/friendly/internal/store"
)

// envelope is the response shape every endpoint returns.
type envelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respond(c echo.Context, code int, data interface{}, message string) error {
	status := "success"
	if code >= http.StatusBadRequest {
		status = "error"
	}
	return c.JSON(code, envelope{Status: status, Data: data, Message: message})
}

type RegisterRequest struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	AdminInviteToken string `json:"adminInviteToken"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u store.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt}
}

type MessageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func toMessageResponse(m store.Message) MessageResponse {
	return MessageResponse{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
}

type ConversationResponse struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	StartedAt    time.Time         `json:"startedAt"`
	EndedAt      *time.Time        `json:"endedAt,omitempty"`
	Messages     []MessageResponse `json:"messages,omitempty"`
	MessageCount int               `json:"messageCount"`
}

func toConversationResponse(cv store.Conversation) ConversationResponse {
	out := ConversationResponse{
		ID:           cv.ID,
		UserID:       cv.UserID,
		StartedAt:    cv.StartedAt,
		EndedAt:      cv.EndedAt,
		MessageCount: cv.MessageCount,
	}
	for _, m := range cv.Messages {
		out.Messages = append(out.Messages, toMessageResponse(m))
	}
	if out.MessageCount == 0 {
		out.MessageCount = len(out.Messages)
	}
	return out
}

type CreateConversationRequest struct {
	Message string `json:"message"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type KnowledgeRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

type ImportKnowledgeRequest struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags"`
}

type KnowledgeResponse struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Tags           []string  `json:"tags"`
	IsPublic       bool      `json:"isPublic"`
	IsApproved     bool      `json:"isApproved"`
	CreatedByAdmin bool      `json:"createdByAdmin"`
	CreatedByUser  bool      `json:"createdByUser"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toKnowledgeResponse(e store.KnowledgeEntry) KnowledgeResponse {
	return KnowledgeResponse{
		ID:             e.ID,
		Title:          e.Title,
		Content:        e.Content,
		Tags:           e.Tags,
		IsPublic:       e.IsPublic,
		IsApproved:     e.IsApproved,
		CreatedByAdmin: e.CreatedByAdmin,
		CreatedByUser:  e.CreatedByUser,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// pageParams reads pagination query parameters with sane bounds.
func pageParams(c echo.Context) (limit, offset int) {
	limit = 20
	offset = 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := c.QueryParam("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			offset = (n - 1) * limit
		}
	}
	return limit, offset
}

type PageResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}
