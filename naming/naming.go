// Package naming turns arbitrary problem titles and URL fragments into
// deterministic, filesystem-safe names.
package naming

import "strings"

// reserved maps every character that is illegal in a note or asset
// filename on at least one platform to a dash.
var reserved = strings.NewReplacer(
	`\`, "-",
	"/", "-",
	":", "-",
	"*", "-",
	"?", "-",
	`"`, "-",
	"<", "-",
	">", "-",
	"|", "-",
)

// Sanitize replaces each of \ / : * ? " < > | with a dash and trims
// surrounding whitespace. It never fails and is idempotent.
func Sanitize(name string) string {
	return strings.TrimSpace(reserved.Replace(name))
}
