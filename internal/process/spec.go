package process

import (
	"os/exec"
	"path/filepath"

	"github.com/loykin/legion/internal/logger"
)

// Spec describes a daemon executable and where its output goes.
type Spec struct {
	Name       string   `json:"name"`
	Command    string   `json:"command"`     // executable, resolved under DaemonsDir
	Args       []string `json:"args"`        // arguments after argv[0]
	DaemonsDir string   `json:"daemons_dir"` // prepended to PATH for the child
	LogDir     string   `json:"log_dir"`
	Env        []string `json:"env"` // complete child environment; nil inherits the supervisor's
}

// Path is the resolved executable path.
func (s Spec) Path() string {
	return filepath.Join(s.DaemonsDir, s.Command)
}

// LogFile is the path of the active (generation 0) log file.
func (s Spec) LogFile() string {
	return logger.GenerationPath(s.LogDir, s.Name, 0)
}

// Argv returns the argument vector passed to the child; argv[0] is the
// registered command, not the resolved path.
func (s Spec) Argv() []string {
	argv := make([]string, 0, len(s.Args)+1)
	argv = append(argv, s.Command)
	return append(argv, s.Args...)
}

// BuildCommand constructs the *exec.Cmd for s. Stdio and process attributes
// are configured by Launch.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(s.Path())
	cmd.Args = s.Argv()
	if s.Env != nil {
		cmd.Env = s.Env
	}
	return cmd
}
