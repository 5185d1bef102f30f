package domain

// ContextMode controls whether workflow state survives shutdown.
type ContextMode string

const (
	// ContextEphemeral contexts delete their inbox state on destroy; a new
	// run starts with an empty inbox via the run-epoch floor.
	ContextEphemeral ContextMode = "ephemeral"
	// ContextBind contexts leave all state intact for the next run.
	ContextBind ContextMode = "bind"
)

// BackendDecl declares how an agent's backend is invoked.
type BackendDecl struct {
	// Type selects the backend implementation: "subprocess" or "sdk".
	Type string `yaml:"type"`
	// Command is the subprocess argv. {prompt}, {agent}, {workspace}, and
	// {mcp_url} placeholders are expanded at spawn time.
	Command []string `yaml:"command,omitempty"`
	// Model is passed through to SDK backends.
	Model string `yaml:"model,omitempty"`
	// Env sets additional environment variables for subprocess backends.
	// Values may reference parent env vars with ${VAR} syntax.
	Env map[string]string `yaml:"env,omitempty"`
}

// AgentDecl declares one agent of a workflow.
type AgentDecl struct {
	Name           string      `yaml:"name"`
	Backend        BackendDecl `yaml:"backend"`
	SystemPrompt   string      `yaml:"system_prompt,omitempty"`
	Tools          []string    `yaml:"tools,omitempty"`
	MaxSteps       int         `yaml:"max_steps,omitempty"`
	TimeoutSeconds int         `yaml:"timeout_seconds,omitempty"`
	MaxAttempts    int         `yaml:"max_attempts,omitempty"`
}

// SetupTask is a shell command run before kickoff. Stdout is captured into
// the named variable, visible to later tasks and the kickoff template.
type SetupTask struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Var     string `yaml:"var,omitempty"`
}

// ContextDecl selects the context directory and persistence mode.
type ContextDecl struct {
	Dir  string      `yaml:"dir,omitempty"`
	Mode ContextMode `yaml:"mode,omitempty"`
}

// ParsedWorkflow is the fully resolved workflow the scheduler consumes.
type ParsedWorkflow struct {
	Name    string            `yaml:"name"`
	Agents  []AgentDecl       `yaml:"agents"`
	Kickoff string            `yaml:"kickoff,omitempty"`
	Setup   []SetupTask       `yaml:"setup,omitempty"`
	Vars    map[string]string `yaml:"vars,omitempty"`
	Context ContextDecl       `yaml:"context,omitempty"`
}

// AgentNames returns the declared agent names in order.
func (w *ParsedWorkflow) AgentNames() []string {
	names := make([]string, 0, len(w.Agents))
	for _, a := range w.Agents {
		names = append(names, a.Name)
	}
	return names
}

// Agent returns the declaration for name, or nil.
func (w *ParsedWorkflow) Agent(name string) *AgentDecl {
	for i := range w.Agents {
		if w.Agents[i].Name == name {
			return &w.Agents[i]
		}
	}
	return nil
}
