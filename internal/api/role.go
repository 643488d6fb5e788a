package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Tenosiey/Murmer/internal/models"
)

// RoleStore persists role assignments keyed by Ed25519 public key.
type RoleStore interface {
	SetRole(ctx context.Context, publicKey, role string, color *string) error
}

// RoleApplier pushes a changed role to every connected session that
// presented the matching key.
type RoleApplier interface {
	ApplyRole(publicKey, role string, color *string)
}

type RoleHandler struct {
	token string
	store RoleStore
	hub   RoleApplier
}

func NewRoleHandler(token string, store RoleStore, hub RoleApplier) *RoleHandler {
	return &RoleHandler{token: token, store: store, hub: hub}
}

type RoleRequest struct {
	Key   string  `json:"key" validate:"required"`
	Role  string  `json:"role" validate:"required"`
	Color *string `json:"color"`
}

// POST /role. Responses are status-only. The bearer token is compared in
// constant time; with no token configured the endpoint always denies.
func (h *RoleHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if h.token == "" || !h.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req RoleRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	color := req.Color
	if color == nil {
		color = models.DefaultRoleColor(req.Role)
	}

	if err := h.store.SetRole(r.Context(), req.Key, req.Role, color); err != nil {
		slog.Error("role update failed", "component", "api", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.hub.ApplyRole(req.Key, req.Role, color)
	slog.Info("role assigned", "component", "api", "role", req.Role)
	w.WriteHeader(http.StatusOK)
}

func (h *RoleHandler) authorized(r *http.Request) bool {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.token)) == 1
}
