package location

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

const maxSuggestBody = 1 << 20

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the public and moderation endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/locations", h.ListLocations)
	mux.HandleFunc("POST /api/locations/suggest", h.Suggest)
	mux.HandleFunc("GET /api/locations/external/search", h.SearchExternal)
	mux.HandleFunc("GET /api/locations/external/wiki", h.WikiDetails)
	mux.HandleFunc("GET /api/locations/image-proxy", h.ProxyImage)
	mux.HandleFunc("GET /api/locations/{id}/description", h.Description)

	mux.HandleFunc("GET /api/locations/admin/pending", h.ListPending)
	mux.HandleFunc("PUT /api/locations/admin/approve/{id}", h.Approve)
	mux.HandleFunc("DELETE /api/locations/admin/reject/{id}", h.Reject)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to marshal JSON response", slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.logger.DebugContext(r.Context(), "Failed to write JSON response", slog.Any("error", err))
	}
}

// respondError maps domain errors to status codes. Store and other
// unexpected failures get a generic message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, types.ErrBadRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, types.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, types.ErrConflict):
		status, msg = http.StatusConflict, "location already exists"
	case errors.Is(err, types.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "upstream service unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	h.respondJSON(w, r, status, errorResponse{Error: msg})
}

// parseAnchor reads lat/lon. Both must be present to form an anchor.
func parseAnchor(r *http.Request) (*types.Anchor, error) {
	latRaw := strings.TrimSpace(r.URL.Query().Get("lat"))
	lonRaw := strings.TrimSpace(r.URL.Query().Get("lon"))
	if latRaw == "" && lonRaw == "" {
		return nil, nil
	}
	if latRaw == "" || lonRaw == "" {
		return nil, errors.New("lat and lon must be given together")
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return nil, errors.New("lat is not a number")
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return nil, errors.New("lon is not a number")
	}
	if !types.ValidPosition(lat, lon) {
		return nil, errors.New("lat/lon out of range")
	}
	return &types.Anchor{Latitude: lat, Longitude: lon}, nil
}

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func searchTerm(r *http.Request) string {
	q := r.URL.Query()
	if t := q.Get("q"); t != "" {
		return t
	}
	return q.Get("search")
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	h.respondJSON(w, r, http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	anchor, err := parseAnchor(r)
	if err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	c, ok := types.ParseCategory(r.URL.Query().Get("category"))
	if !ok {
		h.badRequest(w, r, "unknown category")
		return
	}

	page, err := h.service.ListLocations(r.Context(), types.SearchQuery{
		Term:     searchTerm(r),
		Category: c,
		Anchor:   anchor,
		Page:     intParam(r, "page", 1),
		Limit:    intParam(r, "limit", types.DefaultPageSize),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, page)
}

func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req types.SuggestLocationRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSuggestBody))
	if err != nil {
		h.badRequest(w, r, "unreadable body")
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		h.badRequest(w, r, "invalid JSON body")
		return
	}

	loc, err := h.service.Suggest(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusCreated, loc)
}

func (h *Handler) SearchExternal(w http.ResponseWriter, r *http.Request) {
	anchor, err := parseAnchor(r)
	if err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	c, ok := types.ParseCategory(r.URL.Query().Get("category"))
	if !ok {
		h.badRequest(w, r, "unknown category")
		return
	}

	found, err := h.service.SearchExternal(r.Context(), searchTerm(r), c, anchor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if found == nil {
		found = []types.Location{}
	}
	h.respondJSON(w, r, http.StatusOK, found)
}

func (h *Handler) WikiDetails(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.WikiDetails(r.Context(), r.URL.Query().Get("title"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, d)
}

func (h *Handler) ProxyImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.service.ProxyImage(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Body)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) Description(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.badRequest(w, r, "invalid id")
		return
	}
	d, err := h.service.Description(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, map[string]string{"description": d})
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListPending(r.Context(), intParam(r, "page", 1), intParam(r, "limit", types.DefaultPageSize))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, page)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.badRequest(w, r, "invalid id")
		return
	}
	if err := h.service.Approve(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, map[string]any{"id": id, "is_approved": true})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.badRequest(w, r, "invalid id")
		return
	}
	if err := h.service.Reject(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
