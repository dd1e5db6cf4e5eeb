package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() Info {
	return Info{
		Version:   "1.0.0",
		GitCommit: "abc123def4567",
		BuildTime: "2026-10-15T09:00:00Z",
		GoVersion: "go1.25.1",
		Platform:  "linux/amd64",
	}
}

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestString(t *testing.T) {
	assert.Equal(t,
		"switchboard 1.0.0 (commit abc123d, built 2026-10-15T09:00:00Z, go1.25.1 linux/amd64)",
		fixture().String())
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "switchboard/1.0.0 (abc123d)", fixture().UserAgent())

	short := fixture()
	short.GitCommit = "unknown"
	assert.Equal(t, "switchboard/1.0.0 (unknown)", short.UserAgent())
}

func TestJSON(t *testing.T) {
	out, err := fixture().JSON()
	require.NoError(t, err)

	var decoded Info
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, fixture(), decoded)
	assert.Contains(t, out, `"gitCommit": "abc123def4567"`)
}
