// Package appfs embeds assets that must travel with the binary.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
