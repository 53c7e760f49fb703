// Package buildinfo carries version metadata injected at link time.
package buildinfo

import "runtime/debug"

// UnknownValue is reported for metadata the build did not provide.
const UnknownValue = "unknown"

// Context holds build metadata. It is not part of the user configuration.
type Context struct {
	Version   string
	BuildDate string
}

// NewContext creates build metadata. When version is empty the module
// version recorded by the Go toolchain is used, if any.
func NewContext(version, buildDate string) *Context {
	if version == "" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			version = bi.Main.Version
		}
	}
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// Release is the release name reported to error tracking.
func (c *Context) Release() string {
	return "threatlink@" + c.GetVersion()
}
