package session

import (
	"conductor/core/config"
	"conductor/core/handlers/extcall"

	"github.com/juju/clock"
)

type options struct {
	mailbox           int
	eventBuffer       int
	debug             bool
	versionConstraint string
	checksums         map[string]string
	clock             clock.Clock
	loader            extcall.Loader
}

func defaultOptions() options {
	return options{
		mailbox:     config.DefaultMailboxSize,
		eventBuffer: config.DefaultEventBuffer,
		clock:       clock.WallClock,
	}
}

// Option configures a Session.
type Option func(*options)

// WithConfig applies the session and extcall sections of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		if cfg.Session.MailboxSize > 0 {
			o.mailbox = cfg.Session.MailboxSize
		}
		if cfg.Session.EventBuffer > 0 {
			o.eventBuffer = cfg.Session.EventBuffer
		}
		o.debug = cfg.Session.Debug
		o.versionConstraint = cfg.ExtCall.VersionConstraint
		o.checksums = cfg.ExtCall.ChecksumMap()
	}
}

// WithMailboxSize sizes the request, state and tracker channels.
func WithMailboxSize(n int) Option {
	return func(o *options) { o.mailbox = n }
}

// WithDebug sets the initial debug flag.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = debug }
}

// WithClock sets the clock used by sleep operations and tracker stats.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLoader sets the loader used by ExternalLibCall.
func WithLoader(l extcall.Loader) Option {
	return func(o *options) { o.loader = l }
}
