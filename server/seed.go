package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var catalogueYAML []byte

type catalogue struct {
	Templates []struct {
		Name        string         `yaml:"name"`
		Description string         `yaml:"description"`
		Lists       []TemplateList `yaml:"lists"`
		Cards       []TemplateCard `yaml:"cards"`
	} `yaml:"templates"`
}

func defaultTemplates() ([]Template, error) {
	var c catalogue
	if err := yaml.Unmarshal(catalogueYAML, &c); err != nil {
		return nil, fmt.Errorf("parse template catalogue: %w", err)
	}
	out := make([]Template, 0, len(c.Templates))
	for _, e := range c.Templates {
		data := TemplateData{
			Board: TemplateBoard{Name: e.Name, Description: e.Description},
			Lists: e.Lists,
			Cards: e.Cards,
		}
		if data.Lists == nil {
			data.Lists = []TemplateList{}
		}
		if data.Cards == nil {
			data.Cards = []TemplateCard{}
		}
		out = append(out, Template{Name: e.Name, Description: e.Description, Data: data, IsPublic: true})
	}
	return out, nil
}

// seedTemplates inserts the default catalogue unless some template already
// exists. It returns how many templates were created.
func seedTemplates(ctx context.Context, st Store, log *slog.Logger) (int, error) {
	existing, err := st.ListTemplates(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		log.Info("templates present, skipping seed", "count", len(existing))
		return 0, nil
	}
	defaults, err := defaultTemplates()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range defaults {
		if _, err := st.CreateTemplate(ctx, t); err != nil {
			return n, fmt.Errorf("seed template %q: %w", t.Name, err)
		}
		log.Info("seeded template", "name", t.Name)
		n++
	}
	return n, nil
}
