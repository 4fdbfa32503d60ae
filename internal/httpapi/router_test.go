package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hearthlabs/memoryd/internal/embedding"
	"github.com/hearthlabs/memoryd/internal/service"
	"github.com/hearthlabs/memoryd/internal/sqlitebackend"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newAuthedTestRouter(t *testing.T, token string) http.Handler {
	t.Helper()
	provider := embedding.NewFakeProvider(8)
	backend, err := sqlitebackend.Open(sqlitebackend.Options{Path: ":memory:"}, provider, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { backend.Close() })

	svc := service.New(backend, service.Config{}, zerolog.Nop())
	h := NewHandler(svc, NewEventBroker(), zerolog.Nop())
	return NewRouter(h, nil, zerolog.Nop(), token)
}

func TestBearerAuthRejectsMissingToken(t *testing.T) {
	router := newAuthedTestRouter(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuthRejectsWrongToken(t *testing.T) {
	router := newAuthedTestRouter(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuthAllowsCorrectToken(t *testing.T) {
	router := newAuthedTestRouter(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestBearerAuthDisabledWhenTokenEmpty(t *testing.T) {
	router := newAuthedTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
