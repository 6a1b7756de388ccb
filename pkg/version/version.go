package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build information, set at build time with -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
	OS        = runtime.GOOS
	Arch      = runtime.GOARCH
)

const productName = "vehiclecount"

// Info contains version information.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns the version information. When the binary was built without
// ldflags, the VCS stamp embedded by the go tool is used instead.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        OS,
		Arch:      Arch,
	}

	if info.GitCommit == "unknown" || info.BuildTime == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					if info.GitCommit == "unknown" && s.Value != "" {
						info.GitCommit = s.Value
					}
				case "vcs.time":
					if info.BuildTime == "unknown" && s.Value != "" {
						info.BuildTime = s.Value
					}
				}
			}
		}
	}

	return info
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s, os/arch: %s/%s)",
		productName, i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.OS, i.Arch)
}

func (i Info) Short() string {
	return fmt.Sprintf("%s %s", productName, i.Version)
}
