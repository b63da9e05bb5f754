package config

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v2"
)

// FromFile reads a YAML config file into cfg. The file is rendered as a
// text/template with the process environment as data, so values can be
// written as {{.VAR}} template references or plain ${VAR} expansions.
func FromFile(filePath string, cfg interface{}) error {
	environ := os.Environ()
	envMap := make(map[string]string, len(environ))
	for _, envStr := range environ {
		pair := strings.SplitN(envStr, "=", 2)
		envMap[pair[0]] = pair[1]
	}

	t, err := template.ParseFiles(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", filePath, err)
	}
	rendered := &strings.Builder{}
	if err := t.Execute(rendered, envMap); err != nil {
		return fmt.Errorf("failed to render config %s: %w", filePath, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(rendered.String())), cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", filePath, err)
	}
	return nil
}
