// Package version exposes build metadata injected through -ldflags:
//
//	-X github.com/jingkaihe/switchboard/pkg/version.Version=v0.3.0
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Populated at link time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the build metadata of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("switchboard %s (commit %s, built %s, %s %s)",
		i.Version, i.shortCommit(), i.BuildTime, i.GoVersion, i.Platform)
}

// UserAgent identifies the binary to step commands and HTTP clients.
func (i Info) UserAgent() string {
	return fmt.Sprintf("switchboard/%s (%s)", i.Version, i.shortCommit())
}

// JSON returns the indented JSON form of i.
func (i Info) JSON() (string, error) {
	out, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (i Info) shortCommit() string {
	if len(i.GitCommit) > 7 {
		return i.GitCommit[:7]
	}
	return i.GitCommit
}
