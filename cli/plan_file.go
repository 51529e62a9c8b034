package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// planDocument describes a batch of downloads, one session per job.
type planDocument struct {
	Version  int       `json:"version" yaml:"version"`
	Server   string    `json:"server" yaml:"server"`
	Channel  string    `json:"channel" yaml:"channel"`
	Nickname string    `json:"nickname" yaml:"nickname"`
	Dir      string    `json:"dir" yaml:"dir"`
	Jobs     []planJob `json:"jobs" yaml:"jobs"`
}

type planJob struct {
	Name     string     `json:"name" yaml:"name"`
	Bot      string     `json:"bot" yaml:"bot"`
	Packs    stringList `json:"packs" yaml:"packs"`
	Server   string     `json:"server" yaml:"server"`
	Channel  string     `json:"channel" yaml:"channel"`
	Nickname string     `json:"nickname" yaml:"nickname"`
	Dir      string     `json:"dir" yaml:"dir"`
}

// stringList accepts a scalar or a list, of strings or numbers.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		value := strings.TrimSpace(node.Value)
		if value == "" {
			*s = nil
		} else {
			*s = []string{value}
		}
		return nil
	case yaml.SequenceNode:
		var result []string
		for _, child := range node.Content {
			if child.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: list entries must be scalars", child.Line)
			}
			if item := strings.TrimSpace(child.Value); item != "" {
				result = append(result, item)
			}
		}
		*s = result
		return nil
	default:
		return fmt.Errorf("line %d: unsupported YAML type for list", node.Line)
	}
}

func (s *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}
	if data[0] != '[' {
		value, err := jsonScalar(data)
		if err != nil {
			return err
		}
		if value == "" {
			*s = nil
		} else {
			*s = []string{value}
		}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var result []string
	for _, item := range raw {
		value, err := jsonScalar(item)
		if err != nil {
			return err
		}
		if value != "" {
			result = append(result, value)
		}
	}
	*s = result
	return nil
}

func jsonScalar(data []byte) (string, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		return strings.TrimSpace(str), nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", data)
	}
	return num.String(), nil
}

func loadPlanDocument(path string) (*planDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	format := strings.ToLower(filepath.Ext(path))
	if format != ".yaml" && format != ".yml" && format != ".json" {
		format = ".yaml"
	}
	doc, err := decodePlanDocument(data, format)
	if err != nil {
		return nil, err
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Version != 1 {
		return nil, fmt.Errorf("unsupported plan version %d", doc.Version)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodePlanDocument(data []byte, format string) (*planDocument, error) {
	var doc planDocument
	switch format {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse plan file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse plan file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", format)
	}
	return &doc, nil
}

func (doc *planDocument) validate() error {
	if len(doc.Jobs) == 0 {
		return fmt.Errorf("plan has no jobs")
	}
	for i, job := range doc.Jobs {
		if strings.TrimSpace(job.Bot) == "" {
			return fmt.Errorf("jobs[%d] missing bot", i)
		}
		if len(job.Packs) == 0 {
			return fmt.Errorf("jobs[%d] missing packs", i)
		}
	}
	return nil
}

// label names a job in logs and errors.
func (job planJob) label(index int) string {
	if name := strings.TrimSpace(job.Name); name != "" {
		return name
	}
	return fmt.Sprintf("jobs[%d] %s", index, job.Bot)
}
