// Package version holds build identity for the capsule binary itself
// (distinct from a compiled capsule's declared manifest version), set via
// -ldflags at build time.
package version

import (
	"runtime/debug"
)

var (
	// These will be set via -ldflags during build
	GitRepo   string
	GitBranch string
	GitCommit string
	BuildTime string
)

// Info returns a struct containing all version information
type Info struct {
	GitRepo   string           `json:"gitRepo,omitempty"`
	GitBranch string           `json:"gitBranch,omitempty"`
	GitCommit string           `json:"gitCommit,omitempty"`
	BuildTime string           `json:"buildTime,omitempty"`
	BuildInfo *debug.BuildInfo `json:"buildInfo,omitempty"`
}

// Get returns the version information
func Get() Info {
	buildInfo, ok := debug.ReadBuildInfo()
	ret := Info{
		GitRepo:   GitRepo,
		GitBranch: GitBranch,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
	if ok {
		ret.BuildInfo = buildInfo
	}
	return ret
}

// Equal reports whether two version infos represent the same build. Only
// the fields that identify a build (not the full dependency graph) are
// compared, so this stays a plain field comparison rather than a deep
// structural diff. BuildTime is not compared: the same commit rebuilt at a
// different time is the same build.
func (v Info) Equal(other Info) bool {
	if v.BuildInfo != nil && other.BuildInfo != nil {
		if v.BuildInfo.Main.Path != other.BuildInfo.Main.Path ||
			v.BuildInfo.GoVersion != other.BuildInfo.GoVersion {
			return false
		}
	} else if v.BuildInfo != nil || other.BuildInfo != nil {
		return false
	}
	return v.GitBranch == other.GitBranch &&
		v.GitCommit == other.GitCommit &&
		v.GitRepo == other.GitRepo
}
