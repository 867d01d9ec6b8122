// Package version exposes build metadata stamped in with -ldflags, falling
// back to the VCS settings the Go toolchain embeds.
package version

import (
	"runtime/debug"
	"strings"
)

// AppName identifies the gateway in build_info, traces and the outbound
// User-Agent.
const AppName = "careerbooks-gateway"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" && s.Value != "" {
				out.BuildDate = s.Value
			}
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
		case "vcs.modified":
			switch s.Value {
			case "true":
				t := true
				out.VCSDirty = &t
			case "false":
				f := false
				out.VCSDirty = &f
			}
		}
	}
	return out
}

// ShortCommit is the commit truncated to 12 characters.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// Dirty reports whether the tree had local modifications. Unknown is false.
func (i Info) Dirty() bool { return i.VCSDirty != nil && *i.VCSDirty }

// UserAgent is sent on upstream storage requests.
func (i Info) UserAgent() string {
	v := strings.TrimSpace(i.Version)
	if v == "" {
		v = "dev"
	}
	ua := AppName + "/" + v
	if c := i.ShortCommit(); c != "" && c != "none" {
		ua += " (" + c + ")"
	}
	return ua
}
