package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sydlexius/contentguard/internal/api/middleware"
	"github.com/sydlexius/contentguard/internal/content"
)

// contentRequest is the body of create and update calls. Absent fields keep
// their current value on update.
type contentRequest struct {
	Title         *string  `json:"title"`
	OriginalURL   *string  `json:"original_url"`
	Type          *string  `json:"content_type"`
	Keywords      []string `json:"keywords"`
	ScanFrequency *string  `json:"scan_frequency"`
	IsActive      *bool    `json:"is_active"`
}

func (b contentRequest) apply(c *content.ProtectedContent) {
	if b.Title != nil {
		c.Title = *b.Title
	}
	if b.OriginalURL != nil {
		c.OriginalURL = *b.OriginalURL
	}
	if b.Type != nil {
		c.Type = content.Type(*b.Type)
	}
	if b.Keywords != nil {
		c.Keywords = b.Keywords
	}
	if b.ScanFrequency != nil {
		c.ScanFrequency = content.Frequency(*b.ScanFrequency)
	}
	if b.IsActive != nil {
		c.IsActive = *b.IsActive
	}
}

func (r *Router) handleListContent(w http.ResponseWriter, req *http.Request) {
	userID := middleware.UserID(req.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.UserIDHeader+" header")
		return
	}

	items, err := r.contents.ListByOwner(req.Context(), userID)
	if err != nil {
		r.logger.Error("listing content", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []content.ProtectedContent{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (r *Router) handleCreateContent(w http.ResponseWriter, req *http.Request) {
	userID := middleware.UserID(req.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.UserIDHeader+" header")
		return
	}

	var body contentRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c := &content.ProtectedContent{OwnerID: userID}
	body.apply(c)

	if err := r.contents.Create(req.Context(), c); err != nil {
		if errors.Is(err, content.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.logger.Error("creating content", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (r *Router) handleGetContent(w http.ResponseWriter, req *http.Request) {
	c := r.ownedContent(w, req, req.PathValue("id"))
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (r *Router) handleUpdateContent(w http.ResponseWriter, req *http.Request) {
	c := r.ownedContent(w, req, req.PathValue("id"))
	if c == nil {
		return
	}

	var body contentRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.apply(c)

	if err := r.contents.Update(req.Context(), c); err != nil {
		switch {
		case errors.Is(err, content.ErrInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, content.ErrNotFound):
			writeError(w, http.StatusNotFound, "content not found")
		default:
			r.logger.Error("updating content", slog.String("content_id", c.ID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	updated, err := r.contents.GetByID(req.Context(), c.ID)
	if err != nil {
		r.logger.Error("reloading content", slog.String("content_id", c.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (r *Router) handleDeleteContent(w http.ResponseWriter, req *http.Request) {
	c := r.ownedContent(w, req, req.PathValue("id"))
	if c == nil {
		return
	}

	if err := r.contents.Delete(req.Context(), c.ID); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, http.StatusNotFound, "content not found")
			return
		}
		r.logger.Error("deleting content", slog.String("content_id", c.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
