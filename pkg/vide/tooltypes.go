package vide

import (
	"path/filepath"
	"strings"
)

// FileEdit exposes the structured accessors spec §4.D mandates for the
// Write/Edit/MultiEdit tool family, parsed lazily from a ToolUse's
// untyped Params map.
type FileEdit struct {
	FilePath    string
	Content     string
	OldString   string
	NewString   string
	ReplaceAll  bool
}

// AsFileEdit parses params for Write/Edit/MultiEdit tools. Missing
// fields are left zero-valued; callers check HasChanges/filePath as
// needed rather than erroring, matching the tolerant shape of the rest
// of the tool-param accessors.
func AsFileEdit(params map[string]any) FileEdit {
	return FileEdit{
		FilePath:   str(params, "file_path"),
		Content:    str(params, "content"),
		OldString:  str(params, "old_string"),
		NewString:  str(params, "new_string"),
		ReplaceAll: boolv(params, "replace_all"),
	}
}

// HasChanges reports whether this edit would actually alter content.
func (f FileEdit) HasChanges() bool {
	if f.Content != "" {
		return true
	}
	return f.OldString != f.NewString
}

// GetOldLineCount counts split-on-newline elements of OldString. Per
// spec §9's open question this yields 3 for "a\nb\n" (trailing empty
// element included) and is kept verbatim as the normative behavior.
func (f FileEdit) GetOldLineCount() int {
	return lineCount(f.OldString)
}

// GetNewLineCount is GetOldLineCount's counterpart over Content (Write)
// or NewString (Edit/MultiEdit).
func (f FileEdit) GetNewLineCount() int {
	if f.Content != "" {
		return lineCount(f.Content)
	}
	return lineCount(f.NewString)
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Split(s, "\n"))
}

// GetRelativePath renders FilePath relative to cwd, falling back to the
// absolute path if it does not live under cwd.
func (f FileEdit) GetRelativePath(cwd string) string {
	if cwd == "" || f.FilePath == "" {
		return f.FilePath
	}
	rel, err := filepath.Rel(cwd, f.FilePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return f.FilePath
	}
	return rel
}

// FileQuery exposes accessors for the read-family tools (Read/Glob/Grep).
type FileQuery struct {
	FilePath string
	Pattern  string
	Glob     string
}

// AsFileQuery parses params for Read/Glob/Grep tools.
func AsFileQuery(params map[string]any) FileQuery {
	return FileQuery{
		FilePath: str(params, "file_path"),
		Pattern:  str(params, "pattern"),
		Glob:     str(params, "glob"),
	}
}

// GetRelativePath mirrors FileEdit's helper for read-family tools.
func (f FileQuery) GetRelativePath(cwd string) string {
	return FileEdit{FilePath: f.FilePath}.GetRelativePath(cwd)
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolv(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// mcpToolPrefix is the wire-format prefix for an MCP-provided tool name:
// mcp__<server>__<tool> (spec §6).
const mcpToolPrefix = "mcp__"

// IsMcpTool reports whether a tool name follows the mcp__ convention.
func IsMcpTool(toolName string) bool {
	return strings.HasPrefix(toolName, mcpToolPrefix)
}

// McpDisplayName renders "mcp__<server>__<tool>" as "<Server Title
// Cased>: <tool>" (spec §4.D). Server names are dash-separated lowercase
// words that decode back to Title Case (spec §6).
func McpDisplayName(toolName string) string {
	if !IsMcpTool(toolName) {
		return toolName
	}
	rest := strings.TrimPrefix(toolName, mcpToolPrefix)
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) != 2 {
		return toolName
	}
	server, tool := parts[0], parts[1]
	words := strings.Split(server, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ") + ": " + tool
}
