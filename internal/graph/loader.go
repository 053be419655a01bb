package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type graphDoc struct {
	Name  string    `yaml:"name" json:"name"`
	Start string    `yaml:"start" json:"start"`
	Nodes []nodeDoc `yaml:"nodes" json:"nodes"`
	Edges []edgeDoc `yaml:"edges" json:"edges"`
}

type nodeDoc struct {
	Name        string `yaml:"name" json:"name"`
	Run         string `yaml:"run" json:"run"`
	Description string `yaml:"description" json:"description"`
}

type edgeDoc struct {
	From      string  `yaml:"from" json:"from"`
	To        *string `yaml:"to" json:"to"` // null denotes a terminal edge
	Condition string  `yaml:"condition" json:"condition"`
}

// Parse decodes a YAML (or JSON) graph definition and validates it.
func Parse(b []byte) (*Graph, error) {
	var doc graphDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	g := &Graph{Name: doc.Name, Start: doc.Start}
	for _, n := range doc.Nodes {
		g.Nodes = append(g.Nodes, &Node{Name: n.Name, Run: n.Run, Description: n.Description})
	}
	for _, e := range doc.Edges {
		to := ""
		if e.To != nil {
			to = *e.To
		}
		g.Edges = append(g.Edges, &Edge{From: e.From, To: to, Condition: e.Condition})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Load reads and parses a graph definition file.
func Load(path string) (*Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}
