// Copyright 2025 James Ross
package engine

import (
	"embed"
	"io/fs"

	"github.com/0xPBIT/maiar-ai-sub000/internal/templates"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// CoreNamespace is the template namespace the engine renders from.
const CoreNamespace = "core"

// RegisterCoreTemplates installs the engine's planning prompts into the
// registry. Deployments can replace any of them with Override.
func RegisterCoreTemplates(r *templates.Registry) error {
	sub, err := fs.Sub(promptFS, "prompts")
	if err != nil {
		return err
	}
	return r.RegisterFS(sub, CoreNamespace)
}
