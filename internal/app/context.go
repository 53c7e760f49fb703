package app

import (
	"github.com/tphakala/threatlink/internal/buildinfo"
	"github.com/tphakala/threatlink/internal/conf"
)

// Context is shared by the commands. Settings is filled in by the root
// command before any subcommand runs.
type Context struct {
	ConfigFile string
	Debug      bool
	Settings   *conf.Settings
	Build      *buildinfo.Context

	closers []func()
}

// NewContext creates an empty command context.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{Build: build}
}

// OnShutdown registers fn to run from Shutdown.
func (c *Context) OnShutdown(fn func()) {
	c.closers = append(c.closers, fn)
}

// Shutdown runs the registered functions in reverse order.
func (c *Context) Shutdown() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
