// Package stability assigns a scalar stability score to each
// component. The table below is the engine's single source of
// determinism for the score: it ships with chunkah and is not
// configurable, so two builds over the same component set always
// agree on ordering.
package stability

import (
	"regexp"

	"github.com/chunkah/chunkah/internal/model"
)

type rule struct {
	pattern *regexp.Regexp
	score   float64
}

// table is checked top to bottom; the first matching rule wins. Core
// system components that rarely change sit at the top; application
// packages get a mid score; unattributed content is the least stable.
var table = []rule{
	{regexp.MustCompile(`^rpm/(filesystem|setup|glibc|bash|coreutils|glibc-common)$`), 0.99},
	{regexp.MustCompile(`^rpm/kernel(-core)?$`), 0.97},
	{regexp.MustCompile(`^rpm/(systemd|openssl|openssl-libs|libgcc|ncurses-libs|zlib)$`), 0.9},
	{regexp.MustCompile(`^rpm/`), 0.5},
	{regexp.MustCompile(`^` + regexp.QuoteMeta(model.Unattributed) + `$`), 0.05},
}

// defaultScore is used when no rule matches.
const defaultScore = 0.3

// Score returns the stability of component, in [0, 1].
func Score(component string) float64 {
	for _, r := range table {
		if r.pattern.MatchString(component) {
			return r.score
		}
	}
	return defaultScore
}
