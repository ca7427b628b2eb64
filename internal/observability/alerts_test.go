package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestBillingAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "billing.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read alert rules: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("parse alert rules: %v", err)
	}
	if len(spec.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	required := map[string]bool{
		"FeeAccrualJobFailing":    false,
		"DueGenerationJobFailing": false,
	}
	for _, group := range spec.Groups {
		for _, rule := range group.Rules {
			if rule.Alert == "" {
				t.Fatalf("group %s contains rule without alert name", group.Name)
			}
			if rule.Expr == "" {
				t.Fatalf("alert %s has empty expr", rule.Alert)
			}
			if !strings.Contains(rule.Expr, "routefare_") {
				t.Fatalf("alert %s does not reference a routefare metric: %s", rule.Alert, rule.Expr)
			}
			if rule.Labels["severity"] == "" {
				t.Fatalf("alert %s missing severity label", rule.Alert)
			}
			if _, ok := required[rule.Alert]; ok {
				required[rule.Alert] = true
			}
		}
	}
	for name, seen := range required {
		if !seen {
			t.Fatalf("required alert %s not defined", name)
		}
	}
}
