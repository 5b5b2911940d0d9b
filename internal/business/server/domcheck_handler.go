package server

import (
	"encoding/json"
	"net/http"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

type domCheckRequest struct {
	UserName string `json:"username"`
}

type domCheckResponse struct {
	IsRegistered bool `json:"isRegistered"`
}

// domCheckHandlerFunc serves POST /ms-graph/dom-check.
func domCheckHandlerFunc(resolver *directory.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req domCheckRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(ctx, w, &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "request body must be a JSON object"})
			return
		}

		ok, err := resolver.IsRegistered(ctx, req.UserName)
		if err != nil {
			writeError(ctx, w, err)
			return
		}

		writeJSON(ctx, w, http.StatusOK, domCheckResponse{IsRegistered: ok})
	}
}
