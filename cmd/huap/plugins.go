package main

import (
	"github.com/huap-ai/huap/internal/memory"
	"github.com/huap-ai/huap/internal/plugin"
)

func init() {
	plugin.Register("memory.inmem", func(settings map[string]any) (any, error) {
		return memory.NewInMem(), nil
	})
}

// memoryFromPlugins returns the first memory store the plugin registry
// provides, falling back to the in-process store.
func memoryFromPlugins() (memory.Store, error) {
	f, err := plugin.LoadDefault()
	if err != nil {
		return nil, err
	}
	built, err := f.Build()
	if err != nil {
		return nil, err
	}
	for _, spec := range f.Plugins {
		if !spec.Enabled || spec.Type != "memory" {
			continue
		}
		if store, ok := built[spec.ID].(memory.Store); ok {
			return store, nil
		}
	}
	return memory.NewInMem(), nil
}
