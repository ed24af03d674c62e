// Package httpapi is the rendering boundary: a net/http adapter over the
// family service. It maps policy errors onto status codes and reports the
// presentation state alongside member data.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kintree/internal/auth"
	"kintree/internal/family"
	"kintree/pkg/domain"
)

// Handler serves the member API.
type Handler struct {
	service *family.Service
	log     family.Logger
}

// NewHandler constructs the member API handler.
func NewHandler(service *family.Service, log family.Logger) *Handler {
	if log == nil {
		log = family.NopLogger()
	}
	return &Handler{service: service, log: log}
}

// NewServer assembles the full HTTP surface: token middleware over the API,
// plus health and metrics endpoints outside it.
func NewServer(service *family.Service, secret []byte, log family.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/", auth.Middleware(secret, NewHandler(service, log)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/members" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case path == "/api/v1/members" && r.Method == http.MethodPost:
		h.handleAdd(w, r)
	case path == "/api/v1/tree" && r.Method == http.MethodGet:
		h.handleTree(w, r)
	case strings.HasPrefix(path, "/api/v1/members/"):
		h.handleMember(w, r, strings.TrimPrefix(path, "/api/v1/members/"))
	default:
		http.NotFound(w, r)
	}
}

// requireIdentity rejects requests that carried no valid token.
func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"state": family.StateUnauthenticated,
			"error": "valid bearer token required",
		})
		return domain.Identity{}, false
	}
	return identity, true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   h.service.State(),
		"members": h.service.Members(),
	})
}

func (h *Handler) handleTree(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": h.service.State(),
		"roots": h.service.Tree(),
	})
}

// memberPayload is the editable subset of a member accepted on writes.
type memberPayload struct {
	Name     string     `json:"name"`
	Gender   string     `json:"gender"`
	Born     *time.Time `json:"born,omitempty"`
	Died     *time.Time `json:"died,omitempty"`
	Bio      *string    `json:"bio,omitempty"`
	ParentID *string    `json:"parent_id,omitempty"`
	SpouseID *string    `json:"spouse_id,omitempty"`
	ImageURL *string    `json:"image_url,omitempty"`
}

func (p memberPayload) apply(m *domain.Member) {
	m.Name = p.Name
	m.Gender = p.Gender
	m.Born = p.Born
	m.Died = p.Died
	m.Bio = p.Bio
	m.ParentID = p.ParentID
	m.SpouseID = p.SpouseID
	m.ImageURL = p.ImageURL
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	var payload memberPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	var member domain.Member
	payload.apply(&member)
	created, err := h.service.Add(r.Context(), identity, member)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"member": created})
}

func (h *Handler) handleMember(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	id := segments[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case len(segments) == 1 && r.Method == http.MethodPut:
		h.handleEdit(w, r, id)
	case len(segments) == 1 && r.Method == http.MethodDelete:
		h.handleDelete(w, r, id)
	case len(segments) == 2 && segments[1] == "photo" && r.Method == http.MethodPost:
		h.handlePhoto(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request, id string) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	var payload memberPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	updated, err := h.service.Edit(r.Context(), identity, id, func(m *domain.Member) error {
		payload.apply(m)
		return nil
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": updated})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), identity, id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": h.service.State()})
}

func (h *Handler) handlePhoto(w http.ResponseWriter, r *http.Request, id string) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' required")
		return
	}
	defer func() { _ = file.Close() }()
	contentType := header.Header.Get("Content-Type")
	updated, err := h.service.AttachPhoto(r.Context(), identity, id, header.Filename, contentType, file)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": updated})
}

// writeDomainError maps controller errors onto status codes: refused
// authorization is 403, a violated referential check is 409, unknown members
// are 404, backend failures surface as 502.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var authErr domain.AuthorizationError
	if errors.As(err, &authErr) {
		writeError(w, http.StatusForbidden, authErr.Error())
		return
	}
	var refErr domain.ReferentialIntegrityError
	if errors.As(err, &refErr) {
		writeError(w, http.StatusConflict, refErr.Error())
		return
	}
	var ruleErr domain.RuleViolationError
	if errors.As(err, &ruleErr) {
		writeError(w, http.StatusConflict, ruleErr.Error())
		return
	}
	var notFound domain.ErrNotFound
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, notFound.Error())
		return
	}
	var storeErr domain.StoreError
	if errors.As(err, &storeErr) {
		h.log.Error("store failure", "op", storeErr.Op, "error", storeErr.Err)
		writeError(w, http.StatusBadGateway, "persistence backend unavailable")
		return
	}
	h.log.Error("unhandled error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
