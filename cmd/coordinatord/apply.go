package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/basinrun/coordinator/pkg/client"
	"github.com/basinrun/coordinator/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a resource from a YAML file",
	Long: `Apply declares a repository, extractor, or binding from a YAML file.

Examples:
  coordinatord apply -f repository.yaml
  coordinatord apply -f binding.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("manager", "127.0.0.1:8080", "Coordinator API address")
	_ = applyCmd.MarkFlagRequired("file")
}

// resourceDoc is the envelope every applied YAML document is wrapped in:
// a Kind field selects which resource type Spec decodes into.
type resourceDoc struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   resourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type resourceMetadata struct {
	Name       string `yaml:"name"`
	Repository string `yaml:"repository,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	managerAddr, _ := cmd.Flags().GetString("manager")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var doc resourceDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	c, err := client.NewClient(managerAddr)
	if err != nil {
		return fmt.Errorf("connect to coordinator: %w", err)
	}
	defer c.Close()

	switch doc.Kind {
	case "Repository":
		return applyRepository(c, &doc)
	case "Extractor":
		return applyExtractor(managerAddr, &doc)
	case "Binding":
		return applyBinding(c, &doc)
	default:
		return fmt.Errorf("unsupported resource kind: %q", doc.Kind)
	}
}

func applyRepository(c *client.Client, doc *resourceDoc) error {
	name := doc.Metadata.Name
	if existing, err := c.GetRepository(name); err == nil && existing != nil {
		fmt.Printf("Repository already exists: %s (skipping)\n", name)
		return nil
	}
	repo, err := c.CreateRepository(name)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	fmt.Printf("✓ Repository created: %s\n", repo.Name)
	return nil
}

// applyExtractor registers an extractor's input/output schema. It bypasses
// pkg/client because extractor registration is an administrative endpoint,
// not part of the client's RPC surface.
func applyExtractor(managerAddr string, doc *resourceDoc) error {
	specData, err := yaml.Marshal(doc.Spec)
	if err != nil {
		return err
	}
	var extractor types.ExtractorDescription
	if err := yaml.Unmarshal(specData, &extractor); err != nil {
		return fmt.Errorf("parse extractor spec: %w", err)
	}
	extractor.Name = doc.Metadata.Name

	if err := postJSON(managerAddr, "/v1/extractors", &extractor, &extractor); err != nil {
		return fmt.Errorf("register extractor: %w", err)
	}
	fmt.Printf("✓ Extractor registered: %s\n", extractor.Name)
	return nil
}

func applyBinding(c *client.Client, doc *resourceDoc) error {
	specData, err := json.Marshal(doc.Spec)
	if err != nil {
		return err
	}
	var binding types.ExtractorBinding
	if err := json.Unmarshal(specData, &binding); err != nil {
		return fmt.Errorf("parse binding spec: %w", err)
	}
	binding.Name = doc.Metadata.Name
	if binding.Repository == "" {
		binding.Repository = doc.Metadata.Repository
	}

	if err := c.CreateBinding(&binding); err != nil {
		return fmt.Errorf("create binding: %w", err)
	}
	fmt.Printf("✓ Binding created: %s.%s\n", binding.Repository, binding.Name)
	return nil
}
