// Package appfs exposes the app's embedded static files:
// database migrations, email templates and assets.
package appfs

import "embed"

//go:embed assets migrations all:templates
var FS embed.FS
