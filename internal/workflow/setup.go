package workflow

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jharju/weft/internal/domain"
)

const setupTaskTimeout = 5 * time.Minute

// RunSetup executes the setup tasks sequentially in dir. Each command is
// interpolated against the accumulated variable map; trimmed stdout is stored
// under the task's var name for later tasks and the kickoff template. A
// non-zero exit aborts the workflow.
func RunSetup(ctx context.Context, tasks []domain.SetupTask, vars map[string]string, dir string, logger *log.Logger) (map[string]string, error) {
	out := make(map[string]string, len(vars)+len(tasks))
	for k, v := range vars {
		out[k] = v
	}
	for i, task := range tasks {
		name := task.Name
		if name == "" {
			name = fmt.Sprintf("task %d", i+1)
		}
		command := Interpolate(task.Command, out)
		logger.Printf("Setup: %s: %s", name, command)

		taskCtx, cancel := context.WithTimeout(ctx, setupTaskTimeout)
		cmd := exec.CommandContext(taskCtx, "sh", "-c", command)
		if dir != "" {
			cmd.Dir = dir
		}
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		cancel()
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return nil, fmt.Errorf("setup %s: %s", name, msg)
		}
		if task.Var != "" {
			out[task.Var] = strings.TrimRight(stdout.String(), "\n")
		}
	}
	return out, nil
}

// EnvVars merges the process environment referenced by ${VAR} templates into
// a variable map, with explicit vars taking precedence.
func EnvVars(explicit map[string]string) map[string]string {
	out := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			out[k] = v
		}
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out
}
