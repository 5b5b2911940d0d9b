package server

import (
	"context"
	"encoding/json"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/serviceerr"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeError maps err to its status and writes it as JSON. Descriptions of
// unexpected errors are not sent to the client.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := serviceerr.HTTPStatus(err)
	code, description := serviceerr.FailureInfo(err)

	if status >= http.StatusInternalServerError {
		slogctx.Error(ctx, "Request failed", "error", err)
		if code == serviceerr.UnknownFailureCode {
			description = ""
		}
	}

	writeJSON(ctx, w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slogctx.Debug(ctx, "Failed to write response", "error", err)
	}
}
