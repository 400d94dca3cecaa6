package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"caseflow/internal/model"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Seed is reference data loaded into an in-memory backend
type Seed struct {
	Departments []model.Department `json:"departments"`
	Labels      []model.Label      `json:"labels"`
	Templates   []model.Template   `json:"templates"`
	Companies   []model.Company    `json:"companies"`
}

// yamlSeed is the YAML shape of a seed. Templates carry questionnaires
// keyed by department and are only read from JSON seeds.
type yamlSeed struct {
	Departments       []struct {
		ID                int64    `yaml:"id"`
		Name              string   `yaml:"name"`
		Position          int      `yaml:"position"`
		RequiredDocuments []string `yaml:"required_documents"`
		Color             string   `yaml:"color"`
	} `yaml:"departments"`
	Labels []struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		Color  string `yaml:"color"`
	} `yaml:"labels"`
	Companies []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
	} `yaml:"companies"`
}

// LoadSeed reads a seed file. Files ending in .json or .jsonc are parsed as
// JSON with comments and trailing commas; anything else as YAML.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to read seed: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json", ".jsonc":
		return parseJSONSeed(path, data)
	default:
		return parseYAMLSeed(path, data)
	}
}

func parseJSONSeed(path string, data []byte) (Seed, error) {
	var seed Seed
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return seed, fmt.Errorf("invalid JSONC in seed %s: %w", path, err)
	}
	if err := json.Unmarshal(standardized, &seed); err != nil {
		return seed, fmt.Errorf("failed to parse seed %s: %w", path, err)
	}
	return seed, nil
}

func parseYAMLSeed(path string, data []byte) (Seed, error) {
	var raw yamlSeed
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Seed{}, fmt.Errorf("failed to parse seed %s: %w", path, err)
	}

	var seed Seed
	for _, d := range raw.Departments {
		seed.Departments = append(seed.Departments, model.Department{
			ID:                model.DepartmentID(d.ID),
			Name:              d.Name,
			Position:          d.Position,
			RequiredDocuments: d.RequiredDocuments,
			Color:             d.Color,
		})
	}
	for _, l := range raw.Labels {
		seed.Labels = append(seed.Labels, model.Label{ID: l.ID, Name: l.Name, Color: l.Color})
	}
	for _, c := range raw.Companies {
		seed.Companies = append(seed.Companies, model.Company{ID: c.ID, Name: c.Name})
	}
	return seed, nil
}
