package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

type registrationRequest struct {
	ClientID        string  `json:"clientId"`
	ClientSecret    string  `json:"clientSecret"`
	TenantID        string  `json:"tenantId"`
	DirectoryDomain string  `json:"directoryDomain"`
	RefID           *int64  `json:"refId,omitempty"`
	RefIDStr        *string `json:"refIdStr,omitempty"`
}

// registrationResponse never carries the client secret.
type registrationResponse struct {
	ID              int64     `json:"id"`
	ClientID        string    `json:"clientId"`
	TenantID        string    `json:"tenantId"`
	DirectoryDomain string    `json:"directoryDomain"`
	DomainHint      string    `json:"domainHint,omitempty"`
	RefID           *int64    `json:"refId,omitempty"`
	RefIDStr        *string   `json:"refIdStr,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toRegistrationResponse(reg directory.Registration) registrationResponse {
	return registrationResponse{
		ID:              reg.ID,
		ClientID:        reg.ClientID,
		TenantID:        reg.TenantID,
		DirectoryDomain: reg.DirectoryDomain,
		DomainHint:      reg.DomainHint,
		RefID:           reg.RefID,
		RefIDStr:        reg.RefIDStr,
		CreatedAt:       reg.CreatedAt,
	}
}

type adminHandler struct {
	repo directory.Repository
}

func (h *adminHandler) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registrationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(ctx, w, &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: err.Error()})
		return
	}

	reg, err := h.repo.Register(ctx, directory.Registration{
		ClientID:        req.ClientID,
		ClientSecret:    req.ClientSecret,
		TenantID:        req.TenantID,
		DirectoryDomain: req.DirectoryDomain,
		RefID:           req.RefID,
		RefIDStr:        req.RefIDStr,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	slogctx.Info(ctx, "Directory registered", "registration", reg)
	writeJSON(ctx, w, http.StatusCreated, toRegistrationResponse(reg))
}

func (h *adminHandler) getByTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reg, err := h.repo.FindByTenantID(ctx, chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, toRegistrationResponse(reg))
}

func (h *adminHandler) getByDomain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain, err := url.PathUnescape(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(ctx, w, serviceerr.Validation("invalid domain %q", chi.URLParam(r, "domain")))
		return
	}

	reg, err := h.repo.FindByDomain(ctx, domain)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, toRegistrationResponse(reg))
}
