package agentcall

import (
	"context"
	"fmt"
	"log/slog"

	claudeagent "github.com/kazz187/claude-agent-sdk-go"

	"github.com/threadweave/threadweave/internal/workflow"
	"github.com/threadweave/threadweave/pkg/cerr"
)

// RoleProfile configures how an agent role is driven.
type RoleProfile struct {
	SystemPrompt   string
	PermissionMode claudeagent.PermissionMode
	MaxTurns       int
}

var defaultProfile = RoleProfile{
	SystemPrompt:   "You are an autonomous worker agent. Complete the assigned task and report the result as plain text.",
	PermissionMode: claudeagent.PermissionModeAcceptEdits,
}

// ClaudeInvoker runs steps through the Claude CLI via the agent SDK.
type ClaudeInvoker struct {
	workDir  string
	profiles map[string]RoleProfile
}

func NewClaudeInvoker(workDir string, profiles map[string]RoleProfile) *ClaudeInvoker {
	if profiles == nil {
		profiles = map[string]RoleProfile{}
	}
	return &ClaudeInvoker{workDir: workDir, profiles: profiles}
}

func (c *ClaudeInvoker) profile(role string) RoleProfile {
	if p, ok := c.profiles[role]; ok {
		if p.SystemPrompt == "" {
			p.SystemPrompt = defaultProfile.SystemPrompt
		}
		if p.PermissionMode == "" {
			p.PermissionMode = defaultProfile.PermissionMode
		}
		return p
	}
	return defaultProfile
}

func (c *ClaudeInvoker) Invoke(ctx context.Context, ref workflow.AgentRef, task string, priorSessionID string) (*Result, error) {
	p := c.profile(ref.Role)

	opts := &claudeagent.ClaudeAgentOptions{
		SystemPrompt:   p.SystemPrompt,
		Cwd:            c.workDir,
		PermissionMode: p.PermissionMode,
		StderrCallback: func(line string) {
			slog.Debug("claude stderr", slog.String("agent_id", ref.AgentID), slog.String("line", line))
		},
	}
	if p.MaxTurns > 0 {
		maxTurns := p.MaxTurns
		opts.MaxTurns = &maxTurns
	}
	if priorSessionID != "" {
		opts.Resume = priorSessionID
	}

	result, err := claudeagent.RunQuerySync(ctx, task, opts)
	if err != nil {
		return nil, cerr.NewError(cerr.Unavailable, fmt.Sprintf("agent %s query failed", ref.AgentID), err)
	}
	if result.Result == nil {
		return nil, cerr.NewError(cerr.Internal, fmt.Sprintf("agent %s returned no result", ref.AgentID), nil)
	}
	if result.Result.IsError {
		msg := result.Result.Result
		if msg == "" {
			msg = "agent returned an error"
		}
		return &Result{SessionID: result.Result.SessionID},
			cerr.NewError(cerr.Internal, fmt.Sprintf("agent %s: %s", ref.AgentID, msg), nil)
	}

	return &Result{
		Output:    result.Result.Result,
		SessionID: result.Result.SessionID,
	}, nil
}
