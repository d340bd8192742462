// Package scaffold provides the starter files written by `privateblog init`.
package scaffold

import "embed"

// Templates contains the starter .env and welcome post.
// Files use Go text/template syntax and have a .tmpl suffix.
//
//go:embed all:templates
var Templates embed.FS
