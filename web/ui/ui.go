// Package ui embeds the single-page form served by certd.
package ui

import "embed"

//go:embed index.html
var Files embed.FS
