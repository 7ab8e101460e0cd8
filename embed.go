package devserver

import "embed"

// WebFS holds the front-end build served when no -static-dir is given.
//
//go:embed all:web/dist
var WebFS embed.FS

// WebRoot is the directory inside WebFS that holds index.html.
const WebRoot = "web/dist"
