package sandbox

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/haasonsaas/augur/internal/agent"
	safeexec "github.com/haasonsaas/augur/internal/exec"
)

// Namespace is the registry namespace for this tool server.
const Namespace = "sandbox"

// pip package names: letters, digits, and separators, optionally with a
// version pin.
var packagePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(\[[A-Za-z0-9,_-]+\])?(==[A-Za-z0-9._]+)?$`)

// Register adds the code execution tools to the registry. All tools share
// the runner, and with it the session workspace.
func Register(r *agent.Registry, runner *Runner) error {
	for _, t := range []agent.Tool{
		&ExecuteCodeTool{runner: runner},
		&InstallPackageTool{runner: runner},
	} {
		if err := r.Register(Namespace, t); err != nil {
			return err
		}
	}
	return nil
}

func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// ExecuteCodeTool runs Python source in the session container.
type ExecuteCodeTool struct {
	runner *Runner
}

func (t *ExecuteCodeTool) Name() string { return "execute_code" }

func (t *ExecuteCodeTool) Description() string {
	return "Run Python code in an isolated sandbox. Files written to /workspace persist across calls in this session."
}

func (t *ExecuteCodeTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{"type": "string", "description": "Python source to execute."},
		},
		"required": []string{"code"},
	})
}

func (t *ExecuteCodeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Code == "" {
		return agent.NewToolError("code is required"), nil
	}

	res, err := t.runner.Run(ctx, []string{"python3", "-"}, input.Code)
	if err != nil {
		return agent.NewToolError("sandbox execution failed: %v", err), nil
	}
	return agent.JSONResult(map[string]any{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
	}), nil
}

// InstallPackageTool installs a Python package into the session container.
type InstallPackageTool struct {
	runner *Runner
}

func (t *InstallPackageTool) Name() string { return "install_package" }

func (t *InstallPackageTool) Description() string {
	return "Install a Python package (pip) into the sandbox, e.g. 'numpy' or 'pandas==2.2.0'."
}

func (t *InstallPackageTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"package": map[string]any{"type": "string", "description": "Package name, optionally with ==version."},
		},
		"required": []string{"package"},
	})
}

func (t *InstallPackageTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Package string `json:"package"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	pkg, err := safeexec.SanitizeArgument(input.Package)
	if err != nil {
		return agent.NewToolError("unsafe package name: %v", err), nil
	}
	if !packagePattern.MatchString(pkg) {
		return agent.NewToolError("invalid package name %q", pkg), nil
	}

	res, err := t.runner.Run(ctx, []string{"pip", "install", "--no-input", "--quiet", pkg}, "")
	if err != nil {
		return agent.NewToolError("sandbox install failed: %v", err), nil
	}
	if res.ExitCode != 0 {
		return agent.NewToolError("pip install failed: %s", res.Stderr), nil
	}
	return agent.JSONResult(map[string]any{"installed": pkg}), nil
}
