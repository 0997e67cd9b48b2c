package engine

import (
	"context"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/assemble"
)

// PersonaAgent is a call_agent delegation target bound to one persona and
// credential. dispatch.AgentResolver hands these back rather than Engine
// itself, so a secret Credential never has to travel through AgentTask's
// string-keyed Context map the way persona/model routing hints do.
type PersonaAgent struct {
	Engine      *Engine
	PersonaID   string
	Credential  assemble.Credential
	LanguageTag string
}

// Name implements orkestra.Agent.
func (p *PersonaAgent) Name() string { return p.PersonaID }

// Description implements orkestra.Agent.
func (p *PersonaAgent) Description() string {
	return "Delegation target bound to persona " + p.PersonaID
}

// Execute implements orkestra.Agent, running task through the bound
// persona and credential rather than letting the classifier resolve one.
func (p *PersonaAgent) Execute(ctx context.Context, task orkestra.AgentTask) (orkestra.AgentResult, error) {
	req := Request{
		Prompt:           task.Input,
		ExplicitPersona:  p.PersonaID,
		Credential:       p.Credential,
		LanguageTag:      p.LanguageTag,
		WorkingDirectory: task.WorkingDir,
		CallDepth:        task.CallDepth,
	}
	result, err := p.Engine.Run(ctx, req, nil)
	return orkestra.AgentResult{Output: result.Text, Usage: result.Usage}, err
}
