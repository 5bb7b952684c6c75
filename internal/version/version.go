// Package version reports the build version of the tether binaries.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule  = "pkt.systems/tether"
	unknownVersion = "v0.0.0-unknown"
	dirtySuffix    = "+dirty"
)

// buildVersion is set via -ldflags "-X pkt.systems/tether/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running build.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Module    string `json:"module" yaml:"module"`
	Revision  string `json:"revision,omitempty" yaml:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty" yaml:"modified,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Current returns the version without a dirty suffix.
func Current() string {
	return strings.TrimSuffix(Describe().Version, dirtySuffix)
}

// Describe returns the full build description.
func Describe() Info {
	info, _ := debug.ReadBuildInfo()
	return describe(info)
}

func describe(info *debug.BuildInfo) Info {
	out := Info{Module: defaultModule, GoVersion: runtime.Version()}
	stamp := readStamp(info)
	out.Revision = stamp.revision
	out.Modified = stamp.modified
	if info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			out.Module = path
		}
	}

	switch {
	case strings.TrimSpace(buildVersion) != "":
		out.Version = strings.TrimSpace(buildVersion)
	case info != nil && info.Main.Version != "" && info.Main.Version != "(devel)":
		out.Version = strings.TrimSpace(info.Main.Version)
	default:
		out.Version = stamp.pseudo()
	}
	if out.Version == "" {
		out.Version = unknownVersion
	}
	return out
}

// stamp is the vcs metadata the go command embeds in the binary.
type stamp struct {
	revision string
	time     string
	modified bool
}

func readStamp(info *debug.BuildInfo) stamp {
	var out stamp
	if info == nil {
		return out
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			out.revision = setting.Value
		case "vcs.time":
			out.time = setting.Value
		case "vcs.modified":
			out.modified = setting.Value == "true"
		}
	}
	return out
}

// pseudo formats a Go pseudo-version from the stamp, or "" without one.
func (s stamp) pseudo() string {
	if s.revision == "" || s.time == "" {
		return ""
	}
	committed, err := time.Parse(time.RFC3339, s.time)
	if err != nil {
		return ""
	}
	rev := s.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	out := "v0.0.0-" + committed.UTC().Format("20060102150405") + "-" + rev
	if s.modified {
		out += dirtySuffix
	}
	return out
}
