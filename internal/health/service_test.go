package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacksenechal/scan-mcp/internal/config"
)

func newTestApp(t *testing.T, cfg config.Config) (*fiber.App, *HealthHandler) {
	t.Helper()
	h := NewHealthHandler(cfg, nil)
	app := fiber.New()
	app.Get("/v1/health", h.HandleHealth)
	return app, h
}

func getHealth(t *testing.T, app *fiber.App) (int, OverallHealth) {
	t.Helper()
	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	require.NoError(t, err)
	defer res.Body.Close()
	var body OverallHealth
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res.StatusCode, body
}

func TestHealthStartingUntilReady(t *testing.T) {
	app, h := newTestApp(t, config.Config{InboxDir: t.TempDir(), ScanMock: true})

	code, body := getHealth(t, app)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", body.OverallStatus)
	assert.False(t, body.Ready)

	h.SetReady()

	code, body = getHealth(t, app)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.OverallStatus)
	assert.True(t, body.Ready)
	assert.Equal(t, "ok", body.Components["inbox"].Status)
	assert.Equal(t, "ok", body.Components["scanner_tools"].Status)
	_, hasRedis := body.Components["redis"]
	assert.False(t, hasRedis)
}

func TestHealthReportsMissingTools(t *testing.T) {
	cfg := config.Config{
		InboxDir:     t.TempDir(),
		ScanimageBin: "/nonexistent/scanimage",
	}
	app, h := newTestApp(t, cfg)
	h.SetReady()

	code, body := getHealth(t, app)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "error", body.OverallStatus)
	assert.Equal(t, "error", body.Components["scanner_tools"].Status)
	assert.Contains(t, body.Components["scanner_tools"].Error, "missing system tools")
}
