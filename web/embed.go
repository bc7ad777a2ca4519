// Package web embeds the HTML templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates static
var files embed.FS

// Templates returns the page templates, rooted at templates/.
func Templates() fs.FS {
	return mustSub("templates")
}

// EmailTemplates returns the email bodies, rooted at templates/email/.
func EmailTemplates() fs.FS {
	return mustSub("templates/email")
}

// Static returns the assets served under /static/.
func Static() fs.FS {
	return mustSub("static")
}

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
