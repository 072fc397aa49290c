package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

func TestActorMiddlewareRejectsMissingTenant(t *testing.T) {
	mw := actorMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without tenant context")
	})

	req := httptest.NewRequest(http.MethodGet, "/stock-transfers", nil)
	req.Header.Set("X-User-ID", uuid.NewString())
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestActorMiddlewarePopulatesActor(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	var got *shared.Actor
	mw := actorMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ActorFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/stock-transfers", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	req.Header.Set("X-User-ID", userID.String())
	req.Header.Set("X-Permissions", "transfers.view,transfers.manage")
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.NotNil(t, got)
	require.Equal(t, tenantID, got.TenantID)
	require.Equal(t, userID, got.UserID)
	require.True(t, got.HasPermission("transfers.manage"))
}
