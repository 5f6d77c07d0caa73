package feed

import "strings"

var bodyCleanup = strings.NewReplacer(
	"<br />", "\n",
	"<br/>", "\n",
	"<br>", "\n",
	"\n\n", "\n",
)

// CleanBody turns line-break tags into newlines and collapses blank lines.
func CleanBody(body string) string {
	return bodyCleanup.Replace(body)
}
