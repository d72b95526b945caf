// Package templates embeds the default configuration and starter prompt.
package templates

import "embed"

//go:embed config.yaml PROMPT.md REPORTING.md
var FS embed.FS
