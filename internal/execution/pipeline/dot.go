package pipeline

import (
	"io"

	"github.com/dominikbraun/graph/draw"
)

// WriteDOT renders the step graph in Graphviz DOT format.
func (b *Builder) WriteDOT(w io.Writer) error {
	return draw.DOT(b.dag, w)
}
