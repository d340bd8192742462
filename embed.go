package privateblog

import "embed"

// StaticAssets contains the stylesheet and the editor preview script served
// under /static/.
//
//go:embed static/*
var StaticAssets embed.FS
