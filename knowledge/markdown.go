package knowledge

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// RenderHTML renders an entry body to HTML for the dashboard mirror (§4.5),
// the same goldmark.Convert call the teacher's internal/web/server.go
// templateFuncs()["markdown"] entry makes. [[ID]] tokens pass through
// untouched since goldmark treats them as plain text, letting the frontend
// highlight them itself.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
