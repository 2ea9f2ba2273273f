package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/friendlyhq/friendly/internal/rag"
	"github.com/friendlyhq/friendly/internal/store"
)

type fakeResponder struct {
	turn     rag.Turn
	err      error
	lastTopK int
	calls    int
}

func (f *fakeResponder) Respond(ctx context.Context, conversationID, content string, topK int) (rag.Turn, error) {
	f.calls++
	f.lastTopK = topK
	if f.err != nil {
		return rag.Turn{}, f.err
	}
	return f.turn, nil
}

func expectGetConversation(mock sqlmock.Sqlmock, id, userID string) {
	mock.ExpectQuery(`SELECT id, user_id, started_at, ended_at FROM conversations WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "started_at", "ended_at"}).
			AddRow(id, userID, time.Now(), nil))
	mock.ExpectQuery(`SELECT id, conversation_id, role, content, created_at FROM messages`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "created_at"}))
}

func TestSendMessageForwardsToOrchestrator(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	responder := &fakeResponder{turn: rag.Turn{
		UserMessage: store.Message{ID: "m1", Role: store.RoleUser, Content: "hi"},
		AIMessage:   store.Message{ID: "m2", Role: store.RoleAI, Content: "hello"},
	}}
	handler := &ConversationsHandler{Store: &store.Store{DB: db}, Orchestrator: responder, FollowupTopK: 3}

	expectGetConversation(mock, "conv-1", "user-1")

	req, rec := jsonRequest(http.MethodPost, "/friendly-api/v1/conversations/conv-1/messages", `{"content":"hi"}`)
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.Set("role", store.UserRoleUser)
	ctx.SetParamNames("id")
	ctx.SetParamValues("conv-1")

	if err := handler.sendMessage(ctx); err != nil {
		t.Fatalf("sendMessage: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if responder.calls != 1 || responder.lastTopK != 3 {
		t.Fatalf("responder calls=%d topK=%d, want 1 call with topK=3", responder.calls, responder.lastTopK)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSendMessageOwnership(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	responder := &fakeResponder{}
	handler := &ConversationsHandler{Store: &store.Store{DB: db}, Orchestrator: responder, FollowupTopK: 3}

	expectGetConversation(mock, "conv-1", "owner")

	req, rec := jsonRequest(http.MethodPost, "/friendly-api/v1/conversations/conv-1/messages", `{"content":"hi"}`)
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "intruder")
	ctx.Set("role", store.UserRoleUser)
	ctx.SetParamNames("id")
	ctx.SetParamValues("conv-1")

	err = handler.sendMessage(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %#v", err)
	}
	if responder.calls != 0 {
		t.Fatal("orchestrator must not run for foreign conversations")
	}
}

func TestSendMessageAdminOverride(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	responder := &fakeResponder{turn: rag.Turn{}}
	handler := &ConversationsHandler{Store: &store.Store{DB: db}, Orchestrator: responder, FollowupTopK: 3}

	expectGetConversation(mock, "conv-1", "owner")

	req, rec := jsonRequest(http.MethodPost, "/friendly-api/v1/conversations/conv-1/messages", `{"content":"hi"}`)
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "someone-else")
	ctx.Set("role", store.UserRoleAdmin)
	ctx.SetParamNames("id")
	ctx.SetParamValues("conv-1")

	if err := handler.sendMessage(ctx); err != nil {
		t.Fatalf("sendMessage as admin: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestSendMessageNotFound(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &ConversationsHandler{Store: &store.Store{DB: db}, Orchestrator: &fakeResponder{}, FollowupTopK: 3}

	mock.ExpectQuery(`SELECT id, user_id, started_at, ended_at FROM conversations WHERE id=\$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "started_at", "ended_at"}))

	req, rec := jsonRequest(http.MethodPost, "/friendly-api/v1/conversations/missing/messages", `{"content":"hi"}`)
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.Set("role", store.UserRoleUser)
	ctx.SetParamNames("id")
	ctx.SetParamValues("missing")

	err = handler.sendMessage(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %#v", err)
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	responder := &fakeResponder{err: rag.ErrEmptyMessage}
	handler := &ConversationsHandler{Store: &store.Store{DB: db}, Orchestrator: responder, FollowupTopK: 3}

	expectGetConversation(mock, "conv-1", "user-1")

	req, rec := jsonRequest(http.MethodPost, "/friendly-api/v1/conversations/conv-1/messages", `{"content":"   "}`)
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.Set("role", store.UserRoleUser)
	ctx.SetParamNames("id")
	ctx.SetParamValues("conv-1")

	err = handler.sendMessage(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %#v", err)
	}
}

func TestCreateConversationSeedsFirstTurn(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	responder := &fakeResponder{turn: rag.Turn{}}
	handler := &ConversationsHandler{Store: &store.Store{DB: db}, Orchestrator: responder, CreateTopK: 5}

	mock.ExpectQuery(`INSERT INTO conversations`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at"}).AddRow("conv-9", time.Now()))
	expectGetConversation(mock, "conv-9", "user-1")

	req, rec := jsonRequest(http.MethodPost, "/friendly-api/v1/conversations", `{"message":"What is photosynthesis?"}`)
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.Set("role", store.UserRoleUser)

	if err := handler.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if responder.calls != 1 || responder.lastTopK != 5 {
		t.Fatalf("responder calls=%d topK=%d, want 1 call with topK=5", responder.calls, responder.lastTopK)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
