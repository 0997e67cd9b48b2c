package gemini

// Option configures a Gemini provider.
type Option func(*Gemini)

// WithMediaResolution sets the media resolution for multimodal inputs.
// Valid values: "MEDIA_RESOLUTION_LOW", "MEDIA_RESOLUTION_MEDIUM", "MEDIA_RESOLUTION_HIGH".
func WithMediaResolution(r string) Option {
	return func(g *Gemini) { g.mediaResolution = r }
}

// WithCodeExecution enables the code execution tool (default false).
func WithCodeExecution(enabled bool) Option {
	return func(g *Gemini) { g.codeExecution = enabled }
}

// WithFunctionCalling enables or disables implicit function calling
// (default true). When disabled and no tools are attached to a request,
// toolConfig mode is set to NONE.
func WithFunctionCalling(enabled bool) Option {
	return func(g *Gemini) { g.functionCalling = enabled }
}

// WithGoogleSearch enables grounding with Google Search (default false).
func WithGoogleSearch(enabled bool) Option {
	return func(g *Gemini) { g.googleSearch = enabled }
}

// WithURLContext enables URL context retrieval (default false).
func WithURLContext(enabled bool) Option {
	return func(g *Gemini) { g.urlContext = enabled }
}

// WithThinkingLevelField forces the thinkingLevel (Gemini-3) wire field
// instead of auto-detecting from the model name prefix; useful for
// preview model names that don't start with "gemini-3".
func WithThinkingLevelField(enabled bool) Option {
	return func(g *Gemini) { g.useThinkingLevel = enabled }
}
