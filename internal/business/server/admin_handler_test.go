package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/directory-auth/internal/directory/directorymock"
)

func TestAdminHandlers(t *testing.T) {
	repo := directorymock.NewInMemRepository(directorymock.WithRegistration(directory1))
	m, err := initMeters(t.Context(), testConfig())
	require.NoError(t, err)
	router := newAdminRouter(testConfig(), m, repo)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("register", func(t *testing.T) {
		rec := do(http.MethodPost, "/directories/", `{
			"clientId": "clientid2",
			"clientSecret": "secret2",
			"tenantId": "2b72c902f41f43549f2de8b530d6a803",
			"directoryDomain": "@Foo2.ms.com",
			"refId": 7
		}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var got registrationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.NotZero(t, got.ID)
		assert.Equal(t, "@foo2.ms.com", got.DirectoryDomain)
		assert.Equal(t, "foo2.ms.com", got.DomainHint)
		require.NotNil(t, got.RefID)
		assert.Equal(t, int64(7), *got.RefID)
		assert.NotContains(t, rec.Body.String(), "secret2")
		assert.Equal(t, 2, repo.TLen())
	})

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "duplicate domain",
			method:     http.MethodPost,
			target:     "/directories/",
			body:       `{"clientId":"c","clientSecret":"s","tenantId":"other-tenant","directoryDomain":"@FOO1.ms.com"}`,
			wantStatus: http.StatusConflict,
			wantError:  "conflict",
		},
		{
			name:       "validation",
			method:     http.MethodPost,
			target:     "/directories/",
			body:       `{"clientId":"c","clientSecret":"s","tenantId":"t","directoryDomain":"foo3.ms.com"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "validation_error",
		},
		{
			name:       "unknown field",
			method:     http.MethodPost,
			target:     "/directories/",
			body:       `{"secret":"c"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "by tenant",
			method:     http.MethodGet,
			target:     "/directories/tenants/" + directory1.TenantID,
			wantStatus: http.StatusOK,
		},
		{
			name:       "by domain",
			method:     http.MethodGet,
			target:     "/directories/domains/%40foo1.ms.com",
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown tenant",
			method:     http.MethodGet,
			target:     "/directories/tenants/nope",
			wantStatus: http.StatusNotFound,
			wantError:  "not_found",
		},
		{
			name:       "unknown domain",
			method:     http.MethodGet,
			target:     "/directories/domains/@nope.com",
			wantStatus: http.StatusNotFound,
			wantError:  "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(tt.method, tt.target, tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantError != "" {
				var body errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantError, body.Error)
				return
			}

			var got registrationResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, directory1.TenantID, got.TenantID)
			assert.NotContains(t, rec.Body.String(), directory1.ClientSecret)
		})
	}
}
