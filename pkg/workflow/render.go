package workflow

import (
	"sort"
	"strings"
)

// RenderMessage substitutes {name} placeholders with vars. Unknown
// placeholders are left untouched.
func RenderMessage(template string, vars map[string]string) string {
	if !strings.Contains(template, "{") {
		return template
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}

	sort.Strings(names)

	pairs := make([]string, 0, len(vars)*2)
	for _, name := range names {
		pairs = append(pairs, "{"+name+"}", vars[name])
	}

	return strings.NewReplacer(pairs...).Replace(template)
}
