package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ledgerhealth "github.com/jmerrifield20/NexusLedger/internal/health"
)

func TestMountProbes_healthRequestsAreCounted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	mountProbes(router, ledgerhealth.New(ledgerhealth.Config{}, zap.NewNop()), true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ledger_requests_total{method="GET",path="/healthz",status="200"}`)
}

func TestMountProbes_metricsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	mountProbes(router, ledgerhealth.New(ledgerhealth.Config{}, zap.NewNop()), false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
