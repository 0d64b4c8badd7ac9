// Package batch reads the YAML request files accepted by `conductor run`.
package batch

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"conductor/core/operations"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Request kinds.
const (
	KindSleep   = "sleep"
	KindExtCall = "extcall"
	KindCancel  = "cancel"
)

// Request is one entry of a batch file.
type Request struct {
	Kind   string   `mapstructure:"kind"`
	ID     string   `mapstructure:"id"`
	Ms     uint64   `mapstructure:"ms"`
	Path   string   `mapstructure:"path"`
	A      uint64   `mapstructure:"a"`
	B      uint64   `mapstructure:"b"`
	Lines  []string `mapstructure:"lines"`
	Target string   `mapstructure:"target"`
}

// Submitter accepts operation requests. *session.Session implements it.
type Submitter interface {
	Sleep(opID uuid.UUID, ms uint64) error
	ExternalLibCall(opID uuid.UUID, path string, a, b uint64, lines []string) error
	Abort(opID, target uuid.UUID) error
}

// Load reads a batch file: a YAML list of requests.
func Load(path string) ([]Request, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a batch document.
func Parse(b []byte) ([]Request, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal batch: %w", err)
	}
	reqs := make([]Request, 0, len(raw))
	for i, entry := range raw {
		var req Request
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &req,
			ErrorUnused:      true,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(entry); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Validate checks that the fields required by the request kind are present.
func (r Request) Validate() error {
	switch r.Kind {
	case KindSleep:
	case KindExtCall:
		if r.Path == "" {
			return errors.New("extcall request needs a path")
		}
	case KindCancel:
		if r.Target == "" {
			return errors.New("cancel request needs a target")
		}
		if _, err := operations.ParseID(r.Target); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown request kind %q", r.Kind)
	}
	if r.ID != "" {
		if _, err := operations.ParseID(r.ID); err != nil {
			return err
		}
	}
	return nil
}

// Submit sends the request to s and returns the operation id used. An empty
// ID gets a fresh one.
func (r Request) Submit(s Submitter) (uuid.UUID, error) {
	id := uuid.New()
	if r.ID != "" {
		parsed, err := operations.ParseID(r.ID)
		if err != nil {
			return uuid.Nil, err
		}
		id = parsed
	}
	switch r.Kind {
	case KindSleep:
		return id, s.Sleep(id, r.Ms)
	case KindExtCall:
		return id, s.ExternalLibCall(id, r.Path, r.A, r.B, r.Lines)
	case KindCancel:
		target, err := operations.ParseID(r.Target)
		if err != nil {
			return uuid.Nil, err
		}
		return id, s.Abort(id, target)
	default:
		return uuid.Nil, fmt.Errorf("unknown request kind %q", r.Kind)
	}
}
