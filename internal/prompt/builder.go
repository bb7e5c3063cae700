// Package prompt assembles assistant prompts from findings, file
// content, per-rule advice, and the mapper's adaptive strategy. It is
// pure text assembly; no I/O happens here.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/stomperdev/stomper/internal/learning"
	"github.com/stomperdev/stomper/internal/types"
)

// Context carries everything the template can render.
type Context struct {
	// FilePath is the repo-relative path of the file to fix
	FilePath string

	// FileContent is the current content of the file inside the sandbox.
	// Omitted from the prompt when the strategy is Minimal.
	FileContent string

	// Findings are the unresolved findings for this file
	Findings []types.Finding

	// Advice maps rule codes to human-written fixing advice
	Advice map[string]string

	// Strategy is the mapper's recommendation for this attempt
	Strategy learning.AdaptiveStrategy

	// PreviousAttempts summarizes earlier failed attempts, oldest first
	PreviousAttempts []string
}

// promptTemplate renders the fixing prompt. Sections are conditional on
// the adaptive strategy so Minimal prompts stay small.
const promptTemplate = `# FIX STATIC ANALYSIS FINDINGS

Fix the following issues in {{.FilePath}}. Modify that file in place and
change nothing else. Preserve the existing behavior of the code.

## FINDINGS
{{range .Findings}}
- line {{.Line}}{{if .Column}}, col {{.Column}}{{end}}: {{.Code}} ({{.Tool}}) {{.Message}}
{{- end}}
{{if verbose}}
{{- if .FileContent}}
## CURRENT FILE CONTENT

` + "```" + `
{{.FileContent}}
` + "```" + `
{{end}}
{{- end}}
{{- if adviceFor .}}
## ADVICE
{{range .Findings}}{{with advice .Code}}
### {{.Code}}
{{.Text}}
{{end}}{{end}}
{{- end}}
{{- if .Strategy.IncludeExamples}}
## APPROACH

Make the smallest change that resolves each finding. Do not suppress
findings with ignore comments; fix the underlying issue. Keep imports
sorted and remove any that become unused.
{{- end}}
{{- if and .Strategy.IncludeHistory .PreviousAttempts}}
## PREVIOUS ATTEMPTS

Earlier attempts did not fully resolve the findings:
{{range .PreviousAttempts}}
- {{.}}
{{- end}}

Try a different approach this time.
{{- end}}
{{- if .Strategy.SuggestedApproach}}
## HINT

{{.Strategy.SuggestedApproach}}
{{- end}}

When you are done, ensure the file still parses and the fixes are
complete. Respond only by editing the file.
`

// adviceEntry pairs a rule code with its advice text for the template.
type adviceEntry struct {
	Code string
	Text string
}

// Builder renders prompts from Context.
type Builder struct {
	template *template.Template
}

// NewBuilder parses the prompt template.
func NewBuilder() (*Builder, error) {
	// Closures over the Context are installed per-render in Build; the
	// placeholders here only make the template parse.
	tmpl := template.New("prompt").Funcs(template.FuncMap{
		"verbose":   func() bool { return false },
		"advice":    func(string) *adviceEntry { return nil },
		"adviceFor": func(*Context) bool { return false },
	})

	parsed, err := tmpl.Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	return &Builder{template: parsed}, nil
}

// Build renders the prompt for the given context.
func (b *Builder) Build(ctx *Context) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context cannot be nil")
	}
	if len(ctx.Findings) == 0 {
		return "", fmt.Errorf("no findings to render")
	}

	verbose := ctx.Strategy.Verbosity != learning.StrategyMinimal

	tmpl, err := b.template.Clone()
	if err != nil {
		return "", fmt.Errorf("failed to clone prompt template: %w", err)
	}
	tmpl = tmpl.Funcs(template.FuncMap{
		"verbose": func() bool { return verbose },
		"advice": func(code string) *adviceEntry {
			text, ok := ctx.Advice[code]
			if !ok || text == "" {
				return nil
			}
			return &adviceEntry{Code: code, Text: text}
		},
		"adviceFor": func(c *Context) bool {
			if c.Strategy.Verbosity == learning.StrategyMinimal {
				return false
			}
			for _, f := range c.Findings {
				if c.Advice[f.Code] != "" {
					return true
				}
			}
			return false
		},
	})

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}

	return buf.String(), nil
}
