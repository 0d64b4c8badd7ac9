// Package extcall implements the ExternalLibCall operation. The library at
// the requested path must export:
//
//	func Sum(a, b uint64) uint64
//	func Find(lines []string, target string) (string, bool)
//
// and, when a version constraint is configured,
//
//	var Version string
package extcall

import (
	"context"
	"fmt"

	"conductor/core/errors"
	"conductor/core/logger"
	"conductor/core/operations"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// Exported symbol names.
const (
	SumSymbol     = "Sum"
	FindSymbol    = "Find"
	VersionSymbol = "Version"
)

// SearchTarget is the substring passed to Find.
const SearchTarget = "tw"

// Result is the JSON payload of a successful call.
type Result struct {
	Sum   uint64  `json:"sum"`
	Found *string `json:"found"`
}

// Handler calls into an external library.
type Handler struct {
	loader     Loader
	checksums  map[string]string
	constraint *semver.Constraints
	log        *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLoader replaces the default Go plugin loader.
func WithLoader(l Loader) Option {
	return func(h *Handler) { h.loader = l }
}

// WithChecksums only lets libraries whose SHA256 matches sums be opened.
func WithChecksums(sums map[string]string) Option {
	return func(h *Handler) { h.checksums = sums }
}

// New returns a handler. An empty constraint disables the version check.
func New(constraint string, opts ...Option) (*Handler, error) {
	h := &Handler{loader: PluginLoader{}, log: logger.Named("extcall")}
	if constraint != "" {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return nil, fmt.Errorf("invalid library version constraint %q: %w", constraint, err)
		}
		h.constraint = c
	}
	for _, opt := range opts {
		opt(h)
	}
	if len(h.checksums) > 0 {
		h.loader = NewChecksumLoader(h.loader, h.checksums)
	}
	return h, nil
}

func computationFailed(format string, args ...any) *errors.NativeError {
	return errors.NewNative(errors.SeverityError, errors.KindComputationFailed, format, args...)
}

// Handle loads the library, links Sum and Find and calls them once.
func (h *Handler) Handle(ctx context.Context, api *operations.API, kind operations.Kind) (any, error) {
	call, ok := kind.(operations.ExternalLibCall)
	if !ok {
		return nil, fmt.Errorf("unexpected kind %T for %s", kind, operations.ExternalLibCallName)
	}

	lib, err := h.loader.Open(call.Path)
	if err != nil {
		return nil, computationFailed("Fail to load lib: %v", err)
	}
	if err := h.verify(lib); err != nil {
		return nil, computationFailed("Fail to verify lib version: %v", err)
	}

	sumSym, err := lib.Lookup(SumSymbol)
	if err != nil {
		return nil, computationFailed("Fail to link \"sum\" func: %v", err)
	}
	sum, ok := sumSym.(func(uint64, uint64) uint64)
	if !ok {
		return nil, computationFailed("Fail to link \"sum\" func: unexpected signature %T", sumSym)
	}

	findSym, err := lib.Lookup(FindSymbol)
	if err != nil {
		return nil, computationFailed("Fail to link \"find\" func: %v", err)
	}
	find, ok := findSym.(func([]string, string) (string, bool))
	if !ok {
		return nil, computationFailed("Fail to link \"find\" func: unexpected signature %T", findSym)
	}

	res := Result{Sum: sum(call.A, call.B)}
	if line, found := find(call.Lines, SearchTarget); found {
		res.Found = &line
	}
	h.log.Debug("library call finished", zap.String("path", call.Path), zap.Stringer("operation", api.ID()))
	return res, nil
}

func (h *Handler) verify(lib Library) error {
	if h.constraint == nil {
		return nil
	}
	sym, err := lib.Lookup(VersionSymbol)
	if err != nil {
		return err
	}
	var raw string
	switch v := sym.(type) {
	case *string:
		raw = *v
	case string:
		raw = v
	default:
		return fmt.Errorf("unexpected %s type %T", VersionSymbol, sym)
	}
	version, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", raw, err)
	}
	if !h.constraint.Check(version) {
		return fmt.Errorf("version %s does not satisfy %s", version, h.constraint)
	}
	return nil
}
