// Package static serves files from a directory, either over raw TCP (no caching)
// or as a conditional-GET aware origin behind the proxy.
package static

import (
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned for paths that do not name a regular file under the root.
var ErrNotFound = errors.New("static: not found")

// File is the content served for a path.
type File struct {
	Name        string
	Body        []byte
	ContentType string
	ModTime     time.Time
}

// Responder reads files below Root.
type Responder struct {
	Root string
}

// Respond returns the file for the decoded request path.
// Paths are cleaned first, so they cannot escape the root.
func (r Responder) Respond(requestPath string) (File, error) {
	clean := path.Clean("/" + requestPath)
	name := filepath.Join(r.Root, filepath.FromSlash(clean))
	info, err := os.Stat(name)
	if os.IsNotExist(err) {
		return File{}, errors.WithMessagef(ErrNotFound, "path %s", requestPath)
	} else if err != nil {
		return File{}, errors.WithMessagef(err, "stat %s", requestPath)
	}
	if !info.Mode().IsRegular() {
		return File{}, errors.WithMessagef(ErrNotFound, "path %s is not a file", requestPath)
	}
	body, err := os.ReadFile(name)
	if err != nil {
		return File{}, errors.WithMessagef(err, "read %s", requestPath)
	}
	return File{
		Name:        clean,
		Body:        body,
		ContentType: ContentType(clean),
		ModTime:     info.ModTime(),
	}, nil
}

// ContentType derives the content type from the file extension.
func ContentType(name string) string {
	switch filepath.Ext(name) {
	case ".html":
		return "text/html"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
