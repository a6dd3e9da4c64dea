package web

import (
	"embed"
	"io/fs"
)

// The UI ships inside the binary so a single file installs the whole app.
//
//go:embed all:dist
var staticFS embed.FS

// FS returns the embedded UI with the dist prefix stripped, ready to be
// mounted at the server root.
func FS() (fs.FS, error) {
	return fs.Sub(staticFS, "dist")
}
