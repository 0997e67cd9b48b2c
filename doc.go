// Package orkestra is the core runtime for a multi-agent LLM orchestration
// gateway: persona classification, context assembly, a streaming tool-calling
// execution engine, parallel tool dispatch with agent-to-agent delegation,
// and a resilient provider gateway in front of Google Gemini.
//
// The root package holds the types and interfaces shared across every
// stage of the pipeline: chat/tool wire types, the Agent contract used for
// both the top-level engine and delegated sub-agents, the processor-chain
// extension points, and the background-execution handle used by call_agent
// delegation.
//
// # Pipeline
//
//	classify.Classify      -> picks a Persona for the incoming turn
//	assemble.Build         -> resolves persona/model and builds the prompt
//	engine.Engine           -> runs the think/call/observe loop
//	dispatch.Dispatcher     -> executes tool calls, including call_agent
//	provider/gemini.Gemini  -> talks to the Gemini streamGenerateContent API
//	breaker + backoff        -> resilience around the provider
//
// See SPEC_FULL.md for the full specification and DESIGN.md for the
// grounding of each package.
package orkestra
