// Package appfs embeds the static files shipped with the binaries: SQL migrations and email templates.
package appfs

import "embed"

//go:embed migrations/*.sql templates
var FS embed.FS
