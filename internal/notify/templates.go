package notify

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// OTPTemplate renders signup verification codes.
const OTPTemplate = "auth.otp"

//go:embed templates.yaml
var defaultTemplates []byte

type templateSpec struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Templates renders notification text per template name.
type Templates struct {
	byName map[string]compiled
}

// Rendered is a ready-to-send message.
type Rendered struct {
	Subject string
	Body    string
}

// LoadTemplates parses a YAML document mapping template names to
// subject/body pairs.
func LoadTemplates(data []byte) (*Templates, error) {
	var specs map[string]templateSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	t := &Templates{byName: make(map[string]compiled, len(specs))}
	for name, spec := range specs {
		if strings.TrimSpace(spec.Body) == "" {
			return nil, fmt.Errorf("template %s: empty body", name)
		}
		subject, err := template.New(name + ".subject").Option("missingkey=zero").Parse(spec.Subject)
		if err != nil {
			return nil, fmt.Errorf("template %s subject: %w", name, err)
		}
		body, err := template.New(name + ".body").Option("missingkey=zero").Parse(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("template %s body: %w", name, err)
		}
		t.byName[name] = compiled{subject: subject, body: body}
	}
	return t, nil
}

// DefaultTemplates returns the templates embedded in the binary.
func DefaultTemplates() (*Templates, error) {
	return LoadTemplates(defaultTemplates)
}

// Has reports whether a template named name exists.
func (t *Templates) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Render executes the named template with data.
func (t *Templates) Render(name string, data any) (Rendered, error) {
	tmpl, ok := t.byName[name]
	if !ok {
		return Rendered{}, fmt.Errorf("no template for %q", name)
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Rendered{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Rendered{}, fmt.Errorf("render %s body: %w", name, err)
	}
	return Rendered{
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimSpace(body.String()),
	}, nil
}
