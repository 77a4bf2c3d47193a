package server

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultIndexPage は index.html の既定内容
const DefaultIndexPage = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>Hello!</title>
  </head>
  <body>
    <h1>Hello!</h1>
    <p>Hi from poolserve</p>
  </body>
</html>
`

// DefaultNotFoundPage は 404.html の既定内容
const DefaultNotFoundPage = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>Hello!</title>
  </head>
  <body>
    <h1>Oops!</h1>
    <p>Sorry, I don't know what you're asking for.</p>
  </body>
</html>
`

// WriteDefaultPages は dir に既定のページを書き出す
func WriteDefaultPages(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create docroot: %w", err)
	}
	pages := map[string]string{
		IndexFile:    DefaultIndexPage,
		NotFoundFile: DefaultNotFoundPage,
	}
	for name, body := range pages {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}
