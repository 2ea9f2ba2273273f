package server

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/friendlyhq/friendly/internal/helpers"
	"github.com/friendlyhq/friendly/internal/runtime"
	"github.com/friendlyhq/friendly/internal/search"
	"github.com/friendlyhq/friendly/internal/store"
	"github.com/friendlyhq/friendly/provider"
)

const importFetchTimeout = 30 * time.Second

type KnowledgeHandler struct {
	Store    *store.Store
	Provider provider.Provider
	Index    *search.Index
	Logger   *log.Logger
}

func (h *KnowledgeHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.list)

	admin := g.Group("")
	admin.Use(runtime.RequireAdmin())
	admin.POST("", h.add)
	admin.POST("/import", h.importFromURL)
	admin.PUT("/:id", h.update)
	admin.PATCH("/:id/approve", h.approve)
	admin.DELETE("/:id", h.delete)
}

func (h *KnowledgeHandler) add(c echo.Context) error {
	var req KnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.insert(c, req.Title, req.Content, req.Tags)
}

// importFromURL fetches a page, extracts the readable article text and stores
// it as an approved entry.
func (h *KnowledgeHandler) importFromURL(c echo.Context) error {
	var req ImportKnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	article, err := helpers.FetchArticle(c.Request().Context(), req.URL, importFetchTimeout)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not extract article: "+err.Error())
	}
	return h.insert(c, article.Title, article.Text, req.Tags)
}

func (h *KnowledgeHandler) insert(c echo.Context, title, content string, tags []string) error {
	title = helpers.SanitizeText(title)
	content = helpers.SanitizeText(content)
	if title == "" || content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title and content required")
	}

	ctx := c.Request().Context()
	vec, err := h.Provider.Embed(ctx, content)
	if err != nil {
		h.Logger.Printf("embedding unavailable for %q, storing without vector: %v", title, err)
		vec = nil
	}
	entry, err := h.Store.InsertKnowledge(ctx, store.KnowledgeEntry{
		Title:          title,
		Content:        content,
		Tags:           tags,
		Embedding:      vec,
		IsPublic:       true,
		IsApproved:     true,
		CreatedByAdmin: true,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Index.Index(entry); err != nil {
		h.Logger.Printf("index entry %s: %v", entry.ID, err)
	}
	return respond(c, http.StatusCreated, toKnowledgeResponse(entry), "knowledge entry created")
}

func (h *KnowledgeHandler) list(c echo.Context) error {
	limit, offset := pageParams(c)
	searchTerm := c.QueryParam("search")
	role, _ := c.Get("role").(string)

	filter := store.KnowledgeFilter{}
	if role == store.UserRoleAdmin {
		filter.Search = searchTerm
	} else {
		filter.ApprovedOnly = true
		if searchTerm != "" {
			ids, err := h.Index.Search(searchTerm, limit+offset)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			if len(ids) == 0 {
				return respond(c, http.StatusOK, PageResponse{Items: []KnowledgeResponse{}, Total: 0}, "")
			}
			filter.IDs = ids
		}
	}

	entries, total, err := h.Store.ListKnowledge(c.Request().Context(), filter, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]KnowledgeResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toKnowledgeResponse(e))
	}
	return respond(c, http.StatusOK, PageResponse{Items: items, Total: total}, "")
}

func (h *KnowledgeHandler) update(c echo.Context) error {
	var req KnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	entry, err := h.Store.GetKnowledge(ctx, c.Param("id"))
	if err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "knowledge entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.Title != "" {
		entry.Title = helpers.SanitizeText(req.Title)
	}
	if req.Tags != nil {
		entry.Tags = req.Tags
	}
	var newVec []float32
	if req.Content != "" {
		content := helpers.SanitizeText(req.Content)
		if content != entry.Content {
			entry.Content = content
			vec, err := h.Provider.Embed(ctx, content)
			if err != nil {
				h.Logger.Printf("re-embedding unavailable for %s: %v", entry.ID, err)
			} else {
				newVec = vec
			}
		}
	}
	entry.Embedding = newVec // nil keeps the stored vector

	if err := h.Store.UpdateKnowledge(ctx, entry); err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "knowledge entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Index.Index(entry); err != nil {
		h.Logger.Printf("index entry %s: %v", entry.ID, err)
	}
	return respond(c, http.StatusOK, toKnowledgeResponse(entry), "knowledge entry updated")
}

func (h *KnowledgeHandler) approve(c echo.Context) error {
	id := c.Param("id")
	if err := h.Store.ApproveKnowledge(c.Request().Context(), id); err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "knowledge entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, nil, "knowledge entry approved")
}

func (h *KnowledgeHandler) delete(c echo.Context) error {
	id := c.Param("id")
	if err := h.Store.DeleteKnowledge(c.Request().Context(), id); err != nil {
		if err == store.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "knowledge entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Index.Delete(id); err != nil {
		h.Logger.Printf("unindex entry %s: %v", id, err)
	}
	return respond(c, http.StatusOK, nil, "knowledge entry deleted")
}
