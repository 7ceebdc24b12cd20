package diagnostic

// CommandOutput represents a command execution result
type CommandOutput struct {
	Command     string `json:"command" yaml:"command"`
	ExitCode    int    `json:"exit_code" yaml:"exit_code"`
	Stdout      string `json:"stdout" yaml:"stdout"`
	Stderr      string `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Duration    string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}
