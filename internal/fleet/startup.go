package fleet

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"yarrow/pkg/constants"
)

// DefaultStartupTemplate runs the workload as an unprivileged user and powers the instance off.
// The power-off is the only termination signal the reconciler observes.
const DefaultStartupTemplate = `#!/bin/bash
cd {{ quote .WorkDir }}
export {{ .EnvSession }}={{ quote .Session }} {{ .EnvScript }}={{ quote .Script }} {{ .EnvHost }}={{ quote .Host }}
sudo -u {{ quote .User }} --preserve-env={{ .EnvSession }},{{ .EnvScript }},{{ .EnvHost }} {{ .Command }}{{ range .Args }} {{ quote . }}{{ end }}
sudo shutdown now
`

// StartupParams run-scoped values rendered into every worker's startup script
type StartupParams struct {
	WorkDir string
	User    string
	Command string
	Session string
	Script  string
	Host    string   // controller address, used by workers to reach the index service
	Args    []string // raw CLI arguments forwarded to the workload
}

type startupContext struct {
	StartupParams
	EnvSession string
	EnvScript  string
	EnvHost    string
}

// StartupRenderer renders startup scripts from a text/template
type StartupRenderer struct {
	tmpl *template.Template
}

// NewStartupRenderer parses text; an empty text selects DefaultStartupTemplate
func NewStartupRenderer(text string) (*StartupRenderer, error) {
	if text == "" {
		text = DefaultStartupTemplate
	}
	tmpl, err := template.New("startup-script").
		Funcs(template.FuncMap{"quote": shellQuote}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse startup template: %w", err)
	}
	return &StartupRenderer{tmpl: tmpl}, nil
}

// NewStartupRendererFromFile reads the template at path; an empty path selects the default
func NewStartupRendererFromFile(path string) (*StartupRenderer, error) {
	if path == "" {
		return NewStartupRenderer("")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read startup template: %w", err)
	}
	return NewStartupRenderer(string(data))
}

// Render renders the startup script for p
func (r *StartupRenderer) Render(p StartupParams) (string, error) {
	ctx := startupContext{
		StartupParams: p,
		EnvSession:    constants.EnvSession,
		EnvScript:     constants.EnvScript,
		EnvHost:       constants.EnvHost,
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to render startup script: %w", err)
	}
	return buf.String(), nil
}

// RenderStartupScript renders p with DefaultStartupTemplate
func RenderStartupScript(p StartupParams) (string, error) {
	r, err := NewStartupRenderer("")
	if err != nil {
		return "", err
	}
	return r.Render(p)
}

// shellQuote wraps s in single quotes for POSIX shells
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:=@,+%", r):
		return false
	}
	return true
}
