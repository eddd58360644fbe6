package messaging

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// render fills a template's subject and body from the user's properties,
// addressed as {{.user.<name>}}.
func render(tpl *domain.MessageTemplate, properties map[string]string) (subject, body string, err error) {
	user := make(map[string]string, len(properties))
	for name, raw := range properties {
		user[name] = domain.PropertyString(raw)
	}
	data := map[string]any{"user": user}

	if subject, err = execute(tpl.ID+":subject", tpl.Subject, data); err != nil {
		return "", "", err
	}
	if body, err = execute(tpl.ID+":body", tpl.Body, data); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, text string, data any) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
