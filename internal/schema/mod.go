package schema

import (
	"slices"

	"github.com/samcharles93/steer/internal/flow"
	"github.com/samcharles93/steer/internal/mod"
)

// Mod generates a document conforming to a schema. It is a flow.Engine over
// the compiled question graph.
type Mod struct {
	*flow.Engine
	schema *Schema
}

// New compiles s into a mod named name.
func New(name string, s *Schema) (*Mod, error) {
	g, err := Graph(name, s)
	if err != nil {
		return nil, err
	}
	e, err := flow.New(name, g)
	if err != nil {
		return nil, err
	}
	return &Mod{Engine: e, schema: s}, nil
}

// Schema returns the schema m generates for.
func (m *Mod) Schema() *Schema { return m.schema }

// Document returns the rendered document of rc once the flow finished.
func (m *Mod) Document(rc *mod.Context) (string, bool) {
	text, ok := m.State(rc).Data[dataOutput].(string)
	return text, ok
}

// Warnings returns the soft validation failures recorded for rc.
func (m *Mod) Warnings(rc *mod.Context) []string {
	ws, _ := m.State(rc).Data[dataWarnings].([]string)
	return slices.Clone(ws)
}
