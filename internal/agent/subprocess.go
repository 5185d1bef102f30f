package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const defaultSubprocessTimeout = 5 * time.Minute

// SubprocessConfig describes a CLI backend: the command template, its extra
// environment, and the inheritance policy for the parent environment.
type SubprocessConfig struct {
	// Command is the argv template. The placeholders {agent}, {workspace},
	// {mcp_url}, and {prompt} are expanded per run. When no argument contains
	// {prompt}, the prompt is written to stdin.
	Command []string
	// Env vars merged on top of the inherited environment. Values may
	// reference parent vars with ${VAR}.
	Env map[string]string
	// InheritEnv filters the parent environment by glob patterns. Empty means
	// inherit everything; the single value "none" means a clean environment.
	InheritEnv []string
	// Timeout bounds one Send. Zero means defaultSubprocessTimeout.
	Timeout time.Duration
}

// Subprocess is a Backend that spawns a CLI per Send and reads its stdout as
// the response content.
type Subprocess struct {
	agent string
	cfg   SubprocessConfig

	mu        sync.Mutex
	workspace string
	mcp       MCPConfig
	stream    func(string)
}

// NewSubprocess creates a subprocess backend for the named agent.
func NewSubprocess(agent string, cfg SubprocessConfig) *Subprocess {
	return &Subprocess{agent: agent, cfg: cfg}
}

// SetWorkspace rebinds the working directory and MCP endpoint.
func (b *Subprocess) SetWorkspace(dir string, mcp MCPConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workspace = dir
	b.mcp = mcp
}

// Stream registers a handler receiving stdout chunks as they arrive.
func (b *Subprocess) Stream(handler func(chunk string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = handler
}

// Send runs the configured command once. The process group is killed when ctx
// is cancelled or the timeout elapses.
func (b *Subprocess) Send(ctx context.Context, message string, opts SendOptions) (*Result, error) {
	b.mu.Lock()
	workspace := b.workspace
	mcp := b.mcp
	stream := b.stream
	b.mu.Unlock()

	if len(b.cfg.Command) == 0 {
		return nil, fmt.Errorf("agent %s: empty command", b.agent)
	}
	timeout := b.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSubprocessTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args, promptInArgs := expandTemplates(b.cfg.Command, map[string]string{
		"{agent}":     b.agent,
		"{workspace}": workspace,
		"{mcp_url}":   mcp.URL,
		"{prompt}":    message,
	})
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if workspace != "" {
		cmd.Dir = workspace
	}
	cmd.Env = buildEnv(b.cfg, b.agent, workspace, mcp, opts.System)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if !promptInArgs {
		cmd.Stdin = strings.NewReader(message)
	}

	var stdout bytes.Buffer
	var out io.Writer = &stdout
	if stream != nil {
		out = io.MultiWriter(&stdout, streamWriter(stream))
	}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("agent %s: timed out after %s", b.agent, timeout)
		}
		return nil, fmt.Errorf("agent %s: exited after %s: %w", b.agent, time.Since(start).Round(time.Millisecond), err)
	}
	return &Result{Content: strings.TrimRight(stdout.String(), "\n")}, nil
}

// streamWriter adapts a chunk handler to io.Writer.
type streamWriter func(string)

func (w streamWriter) Write(p []byte) (int, error) {
	w(string(p))
	return len(p), nil
}

// expandTemplates substitutes run placeholders in the argv template and
// reports whether any argument consumed the prompt.
func expandTemplates(args []string, vars map[string]string) ([]string, bool) {
	replacer := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		replacer = append(replacer, k, v)
	}
	r := strings.NewReplacer(replacer...)
	out := make([]string, len(args))
	promptUsed := false
	for i, a := range args {
		if strings.Contains(a, "{prompt}") {
			promptUsed = true
		}
		out[i] = r.Replace(a)
	}
	return out, promptUsed
}

// buildEnv constructs the subprocess environment in three layers: the
// inherited parent environment (filtered by InheritEnv), the injected WEFT_*
// vars, and the config env merged on top with ${VAR} expansion.
func buildEnv(cfg SubprocessConfig, agent, workspace string, mcp MCPConfig, system string) []string {
	parentEnv := os.Environ()
	parentMap := make(map[string]string, len(parentEnv))
	for _, e := range parentEnv {
		if k, v, ok := strings.Cut(e, "="); ok {
			parentMap[k] = v
		}
	}

	var base []string
	switch {
	case len(cfg.InheritEnv) == 1 && strings.EqualFold(cfg.InheritEnv[0], "none"):
		base = nil
	case len(cfg.InheritEnv) > 0:
		for _, e := range parentEnv {
			k, _, ok := strings.Cut(e, "=")
			if !ok {
				continue
			}
			for _, pattern := range cfg.InheritEnv {
				if matched, _ := filepath.Match(pattern, k); matched {
					base = append(base, e)
					break
				}
			}
		}
	default:
		base = append([]string(nil), parentEnv...)
	}

	base = append(base,
		"WEFT_AGENT="+agent,
		"WEFT_WORKSPACE="+workspace,
		"WEFT_MCP_URL="+mcp.URL,
	)
	if system != "" {
		base = append(base, "WEFT_SYSTEM_PROMPT="+system)
	}

	for k, v := range cfg.Env {
		expanded := os.Expand(v, func(key string) string { return parentMap[key] })
		base = setEnvVar(base, k, expanded)
	}
	return base
}

// setEnvVar sets or replaces an env var in a []string env slice.
func setEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
