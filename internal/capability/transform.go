// Copyright 2025 James Ross
package capability

// TransformFunc translates a value between the plugin-side shape and the
// provider-side shape of an aliased capability.
type TransformFunc func(data any, pluginSchema, providerSchema *Schema) (any, error)

// TransformGroup pairs the two schemas of one direction with the
// function that translates between them.
type TransformGroup struct {
	PluginSchema   *Schema
	ProviderSchema *Schema
	Transform      TransformFunc
}

// Apply runs the transform when one is configured; otherwise the value
// passes through unchanged.
func (g *TransformGroup) Apply(data any) (any, error) {
	if g == nil || g.Transform == nil {
		return data, nil
	}
	return g.Transform(data, g.PluginSchema, g.ProviderSchema)
}

// TransformEntry describes one alias translation: input and config run
// plugin-to-provider before the call, output runs provider-to-plugin
// after it. Any group may be nil.
type TransformEntry struct {
	Input  *TransformGroup
	Output *TransformGroup
	Config *TransformGroup
}

// accepts reports whether the entry's plugin-side schemas accept the
// given input and config under strict validation.
func (e TransformEntry) accepts(input any, config map[string]any) bool {
	if e.Input != nil && e.Input.PluginSchema != nil && !e.Input.PluginSchema.Accepts(input) {
		return false
	}
	if config != nil && e.Config != nil && e.Config.PluginSchema != nil && !e.Config.PluginSchema.Accepts(config) {
		return false
	}
	return true
}
