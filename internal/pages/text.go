package pages

import (
	"strconv"
	"strings"
)

// quoteText quotes s for use inside :has-text().
func quoteText(s string) string {
	return strconv.Quote(s)
}

func countLabel(opts []Option, label string) int {
	n := 0
	for _, o := range opts {
		if strings.TrimSpace(o.Label) == label {
			n++
		}
	}
	return n
}
