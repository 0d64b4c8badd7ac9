package extcall

import (
	"fmt"
	"plugin"
)

// Library is an opened dynamic library.
type Library interface {
	Lookup(name string) (any, error)
}

// Loader opens libraries by path.
type Loader interface {
	Open(path string) (Library, error)
}

// PluginLoader opens Go plugin binaries.
type PluginLoader struct{}

func (PluginLoader) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	return pluginLibrary{p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

func (l pluginLibrary) Lookup(name string) (any, error) {
	sym, err := l.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}
