package agentloop

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// DefaultInstructions is the base system prompt used by the CLI.
const DefaultInstructions = `You are a careful assistant that can call tools.
Call a tool whenever it gives a more reliable answer than reasoning alone, then answer the user directly.
When a tool reports a recoverable error, correct the input and try again. Otherwise explain what went wrong.`

// BuildSystemPrompt appends an environment block describing the available
// tools and workspace to instructions.
func BuildSystemPrompt(instructions string, reg *Registry, ws *Workspace, model string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(instructions))
	sb.WriteString("\n\n")
	sb.WriteString(BuildEnvironmentContext(reg, ws, model))
	return sb.String()
}

// BuildEnvironmentContext renders the <environment> block.
func BuildEnvironmentContext(reg *Registry, ws *Workspace, model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	if ws != nil {
		fmt.Fprintf(&sb, "Output directory: %s (file tools take plain file names)\n", ws.Root())
	}
	if reg != nil && reg.Len() > 0 {
		fmt.Fprintf(&sb, "Tools: %s\n", strings.Join(reg.Names(), ", "))
	}
	sb.WriteString("</environment>")
	return sb.String()
}
