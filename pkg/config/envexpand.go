package config

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"text/template"
)

// expandEnvTemplate substitutes {{.VAR}} references in raw config bytes with
// values from the process environment. Unknown variables expand to the empty
// string. If the content is not a valid template the raw bytes are returned
// unchanged so plain YAML files keep working.
func expandEnvTemplate(raw []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		slog.Warn("Config is not a valid template, using raw content", "error", err)
		return raw
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		slog.Warn("Config template expansion failed, using raw content", "error", err)
		return raw
	}
	return buf.Bytes()
}
