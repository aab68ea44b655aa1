// Package buildinfo holds build-time metadata reported by the health
// endpoint and the version command.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unknown = "unknown"

// BuildInfo gives read access to build metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
	GetRevision() string
}

// Context is the build metadata of the running binary. Version and
// BuildDate come from ldflags; Revision is read from the embedded VCS
// stamp when the binary was built from a git checkout.
type Context struct {
	Version   string
	BuildDate string
	Revision  string
}

// New builds a Context and fills Revision from the binary's build info.
func New(version, buildDate string) *Context {
	c := &Context{Version: version, BuildDate: buildDate}
	if info, ok := debug.ReadBuildInfo(); ok {
		c.Revision = revisionFrom(info.Settings)
	}
	return c
}

func revisionFrom(settings []debug.BuildSetting) string {
	var rev string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}

// GetVersion implements BuildInfo.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return unknown
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return unknown
	}
	return c.BuildDate
}

// GetRevision implements BuildInfo.
func (c *Context) GetRevision() string {
	if c == nil || c.Revision == "" {
		return unknown
	}
	return c.Revision
}

// String formats the metadata for the version command.
func (c *Context) String() string {
	return fmt.Sprintf("potholewatch %s (revision %s, built %s, %s %s/%s)",
		c.GetVersion(), c.GetRevision(), c.GetBuildDate(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
