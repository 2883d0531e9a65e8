package factory

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/model"
	"errors"
	"fmt"
	"sort"
)

// WriterFactory creates a writer from its configuration entry.
type WriterFactory func(def config.WriterDef) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Types lists the registered writer types.
func Types() []string {
	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Create creates a writer for every enabled entry of defs, in order. Writers
// already created are closed when a later one fails.
func Create(defs []config.WriterDef) ([]model.Writer, error) {
	var writers []model.Writer
	closeAll := func() {
		for _, w := range writers {
			w.Close()
		}
	}

	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		logger.Infof("Creating writer of type '%s'", def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			closeAll()
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}

		w, err := factory(def)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		return nil, errors.New("no writer enabled")
	}
	return writers, nil
}
