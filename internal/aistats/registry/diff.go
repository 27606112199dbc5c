package registry

import (
	"fmt"
	"strings"

	"github.com/RobinCoderZhao/aistats/pkg/differ"
)

// Lines renders one line per source, prefixed with its mode.
func (c *Catalog) Lines() []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, m := range c.Modes {
		for _, s := range m.Sources {
			line := fmt.Sprintf("%s | %s/%s | %s | %s", m.Mode, s.Type, s.Kind, s.Name, s.URL)
			if len(s.Tags) > 0 {
				line += " | " + strings.Join(s.Tags, ",")
			}
			out = append(out, line)
		}
	}
	return out
}

// Diff lists the sources present in only one of two catalogs.
func Diff(old, next *Catalog) differ.Result {
	return differ.Lines(old.Lines(), next.Lines())
}
