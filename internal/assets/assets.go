// Package assets embeds the browser client script and stylesheet.
package assets

import (
	"embed"
	"io/fs"
	"path"
)

//go:embed client/*
var clientFS embed.FS

const (
	ClientJSName  = "lessonview.js"
	ClientCSSName = "lessonview.css"
)

var contentTypes = map[string]string{
	".js":  "application/javascript",
	".css": "text/css",
}

// ClientFS returns the client files rooted at the asset names.
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// Read returns a client asset and its content type.
func Read(name string) (data []byte, contentType string, err error) {
	data, err = fs.ReadFile(ClientFS(), name)
	if err != nil {
		return nil, "", err
	}
	return data, contentTypes[path.Ext(name)], nil
}
