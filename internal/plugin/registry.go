// Package plugin loads the plugin registry file and binds entries to
// statically compiled factories. There is no run-time code loading: an impl
// string selects a factory from the build-time table, nothing else.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// EnvPluginsFile points at the registry document.
const EnvPluginsFile = "HUAP_PLUGINS_FILE"

// Spec is one registry entry. Type scopes what the plugin provides; Impl
// names a factory registered in this process.
type Spec struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Impl     string         `json:"impl" yaml:"impl"`
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Settings map[string]any `json:"settings,omitempty" yaml:"settings"`
}

// File is the registry document.
type File struct {
	Plugins []Spec `json:"plugins" yaml:"plugins"`
}

// fileSchema validates registry documents before any factory runs.
const fileSchema = `{
  "type": "object",
  "required": ["plugins"],
  "properties": {
    "plugins": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "impl"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["memory", "toolpack", "provider", "other"]},
          "impl": {"type": "string", "minLength": 1},
          "enabled": {"type": "boolean"},
          "settings": {"type": "object"}
        }
      }
    }
  }
}`

var compiledSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plugins.json", strings.NewReader(fileSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile("plugins.json")
}()

// Factory builds a plugin instance from its settings. What the instance is
// depends on the plugin type; callers type-assert against the port they need.
type Factory func(settings map[string]any) (any, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register installs a factory under an impl name. Meant to be called from
// init functions of the packages that provide plugins.
func Register(impl string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[impl] = f
}

// Impls lists the registered factory names.
func Impls() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadFile reads and validates a registry document (YAML or JSON).
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("plugin registry %s: %w", path, err)
	}
	doc = normalize(doc)
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("plugin registry %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("plugin registry %s: %w", path, err)
	}
	return &f, nil
}

// LoadDefault reads the registry named by HUAP_PLUGINS_FILE, or returns an
// empty registry when the variable is unset.
func LoadDefault() (*File, error) {
	path := strings.TrimSpace(os.Getenv(EnvPluginsFile))
	if path == "" {
		return &File{}, nil
	}
	return LoadFile(path)
}

// Build instantiates every enabled plugin, keyed by id.
func (f *File) Build() (map[string]any, error) {
	out := map[string]any{}
	for _, spec := range f.Plugins {
		if !spec.Enabled {
			continue
		}
		factoriesMu.RLock()
		factory, ok := factories[spec.Impl]
		factoriesMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("plugin %s: no factory registered for impl %q", spec.ID, spec.Impl)
		}
		instance, err := factory(spec.Settings)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", spec.ID, err)
		}
		out[spec.ID] = instance
	}
	return out, nil
}

// normalize converts YAML's map[any]any trees into the map[string]any form
// the schema validator expects.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
