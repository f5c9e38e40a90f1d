package preflight

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacksenechal/scan-mcp/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		ScanimageBin: "scanimage",
		ScanadfBin:   "scanadf",
		TiffcpBin:    "tiffcp",
		ConvertBin:   "convert",
	}
}

func TestCheckWithAllAvailable(t *testing.T) {
	err := CheckWith(testConfig(), func(string) bool { return true })
	assert.NoError(t, err)
}

func TestCheckWithMissingTools(t *testing.T) {
	err := CheckWith(testConfig(), func(cmd string) bool { return cmd != "scanadf" && cmd != "tiffcp" })
	require.Error(t, err)

	var missing *MissingToolsError
	require.True(t, errors.As(err, &missing))
	require.Len(t, missing.Missing, 2)
	assert.Equal(t, "scanadf", missing.Missing[0].Command)
	assert.Equal(t, "tiffcp", missing.Missing[1].Command)
	assert.Contains(t, err.Error(), "SCANADF_BIN")
	assert.Contains(t, err.Error(), "sane-utils")
}

func TestCheckWithEmptyCommandIsMissing(t *testing.T) {
	cfg := testConfig()
	cfg.ConvertBin = "  "
	err := CheckWith(cfg, func(string) bool { return true })

	var missing *MissingToolsError
	require.True(t, errors.As(err, &missing))
	require.Len(t, missing.Missing, 1)
	assert.Equal(t, "IM_CONVERT_BIN", missing.Missing[0].EnvVar)
}

func TestCheckSkipsInMockMode(t *testing.T) {
	cfg := config.Config{ScanMock: true}
	assert.NoError(t, Check(cfg))
}
