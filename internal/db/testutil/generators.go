// Package testutil provides rapid generators for property tests over the
// fixture store. The string generators lean on hostile input.
package testutil

import (
	"strings"

	"pgregory.net/rapid"
)

// ArbitraryText generates free text: empty, control characters, SQL
// injection attempts, markup and Unicode edge cases.
func ArbitraryText() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.String(),
		rapid.Just(""),
		rapid.Just("test\x00test"),
		rapid.StringMatching(`[a-zA-Z0-9 ]{0,100}`),
		rapid.StringMatching(`[\x01-\x1F]{1,10}`),
		arbitrarySQLInjection(),
		arbitraryMarkup(),
		arbitraryUnicode(),
		arbitraryLongString(),
	)
}

// ArbitraryName generates record names that survive trimming: at least one
// non-space character.
func ArbitraryName() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[A-Za-z][A-Za-z0-9 _-]{0,60}`),
		arbitrarySQLInjection(),
		arbitraryMarkup(),
		arbitraryUnicode(),
	).Filter(func(s string) bool { return strings.TrimSpace(s) != "" })
}

func arbitrarySQLInjection() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		`' OR 1=1 --`,
		`'; DROP TABLE agents; --`,
		`" OR "1"="1`,
		`1; SELECT * FROM users`,
		`admin'--`,
		`' UNION SELECT * FROM sessions --`,
	})
}

func arbitraryMarkup() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		`<script>alert('xss')</script>`,
		`<img src=x onerror=alert(1)>`,
		`**bold** and _em_`,
		"```\ncode\n```",
		`[link](javascript:alert(1))`,
		`&amp; &lt; &gt;`,
	})
}

func arbitraryUnicode() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		"日本語",
		"العربية",
		"🔥🎉💻🚀",
		"Zürich",
		"Москва",
		"à",
		"‮" + "reversed" + "‬",
		"🧑‍💻",
		"test space",
	})
}

func arbitraryLongString() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		n := rapid.SampledFrom([]int{1000, 10000, 100000}).Draw(t, "length")
		return strings.Repeat("abcdefghij", n/10)
	})
}
