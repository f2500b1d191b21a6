package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAndValidateURLParam(t *testing.T) {
	t.Parallel()

	routerTests := []struct {
		name       string
		paramValue string
		wantValue  string
		wantErrMsg string
	}{
		{name: "plain id", paramValue: "weather", wantValue: "weather"},
		{name: "dotted id", paramValue: "io.github.acme", wantValue: "io.github.acme"},
		{name: "encoded slash", paramValue: "io.github.acme%2Fweather", wantValue: "io.github.acme/weather"},
		{name: "encoded at and colon", paramValue: "%40acme%2Fdb%3Av2", wantValue: "@acme/db:v2"},
		{name: "double encoded percent", paramValue: "test%2525server", wantValue: "test%server"},
		{name: "encoded whitespace only", paramValue: "%20%09", wantErrMsg: "id cannot be empty"},
		{name: "space inside", paramValue: "acme%20weather", wantErrMsg: "id cannot contain whitespace"},
		{name: "newline at end", paramValue: "weather%0A", wantErrMsg: "id cannot contain whitespace"},
	}

	for _, tt := range routerTests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			type result struct {
				value string
				err   error
			}
			results := make(chan result, 1)
			router := chi.NewRouter()
			router.Get("/{id}", func(_ http.ResponseWriter, r *http.Request) {
				value, err := GetAndValidateURLParam(r, "id")
				results <- result{value, err}
			})

			req, err := http.NewRequest(http.MethodGet, "/"+tt.paramValue, nil)
			require.NoError(t, err)
			router.ServeHTTP(httptest.NewRecorder(), req)

			got := <-results
			if tt.wantErrMsg != "" {
				require.Error(t, got.err)
				assert.Equal(t, tt.wantErrMsg, got.err.Error())
				return
			}
			require.NoError(t, got.err)
			assert.Equal(t, tt.wantValue, got.value)
		})
	}

	// chi does not route these, so the param is set directly
	directTests := []struct {
		name       string
		paramValue string
		wantErrMsg string
	}{
		{name: "invalid hex", paramValue: "test%ZZ", wantErrMsg: "invalid URL encoding in id"},
		{name: "incomplete percent", paramValue: "test%", wantErrMsg: "invalid URL encoding in id"},
		{name: "empty", paramValue: "", wantErrMsg: "id cannot be empty"},
	}

	for _, tt := range directTests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.paramValue)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			_, err := GetAndValidateURLParam(req, "id")
			require.Error(t, err)
			assert.Equal(t, tt.wantErrMsg, err.Error())
		})
	}
}

func TestGetQueryInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		want    int
		wantOK  bool
		wantErr bool
	}{
		{name: "absent", query: ""},
		{name: "present", query: "?limit=25", want: 25, wantOK: true},
		{name: "not a number", query: "?limit=ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/servers"+tt.query, nil)
			got, ok, err := GetQueryInt(req, "limit")
			if tt.wantErr {
				require.ErrorContains(t, err, "limit must be an integer")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
