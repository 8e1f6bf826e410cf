package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models lexline.yml: the org identity, safety gateway settings, the
// capability manifest, and webhook targets. The manifest is loaded once per
// process and injected; the engine never reads it from a global.
type Config struct {
	Org struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"org"`
	Safety struct {
		GatewayURL     string `yaml:"gateway_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"safety"`
	Capabilities struct {
		Domains map[string]CapabilityDomain `yaml:"domains"`
	} `yaml:"capabilities"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// CapabilityDomain declares the connectors a business domain needs to operate.
type CapabilityDomain struct {
	Description string          `yaml:"description"`
	Connectors  []ConnectorSpec `yaml:"connectors"`
}

type ConnectorSpec struct {
	Type     string `yaml:"type"`
	Name     string `yaml:"name"`
	Purpose  string `yaml:"purpose"`
	Optional bool   `yaml:"optional"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with lx config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if c.Org.Kind != "legal-workspace" {
		return fmt.Errorf("config.org.kind must be 'legal-workspace'")
	}
	if c.Capabilities.Domains == nil {
		return fmt.Errorf("config.capabilities.domains is required")
	}
	for key, dom := range c.Capabilities.Domains {
		if key == "" {
			return fmt.Errorf("config.capabilities.domains contains empty domain key")
		}
		if len(dom.Connectors) == 0 {
			return fmt.Errorf("domain %s declares no connectors", key)
		}
		seen := map[string]bool{}
		for _, spec := range dom.Connectors {
			if spec.Type == "" || spec.Name == "" {
				return fmt.Errorf("domain %s has connector spec missing type or name", key)
			}
			k := spec.Type + ":" + spec.Name
			if seen[k] {
				return fmt.Errorf("domain %s declares connector %s twice", key, k)
			}
			seen[k] = true
		}
	}
	if c.Safety.TimeoutSeconds < 0 {
		return fmt.Errorf("config.safety.timeout_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "lexline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	cfg.Org.ID = orgID
	cfg.Org.Kind = "legal-workspace"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `org:
  id: %s
  kind: legal-workspace

safety:
  gateway_url: ""
  timeout_seconds: 30

capabilities:
  domains:
    finance:
      description: "Billing, trust accounting, and invoicing work"
      connectors:
        - type: accounting
          name: ledger
          purpose: "General ledger reads and journal postings"
        - type: billing
          name: stripe
          purpose: "Client invoicing and payment collection"
          optional: true
    legal_research:
      description: "Case-law and statute research"
      connectors:
        - type: research
          name: caselaw
          purpose: "Primary-source case-law search"
        - type: research
          name: statutes
          purpose: "Statute and regulation lookup"
          optional: true
    document_management:
      description: "Matter files, templates, and signatures"
      connectors:
        - type: storage
          name: drive
          purpose: "Matter document storage"
        - type: esign
          name: docusign
          purpose: "Signature collection"
          optional: true
    communications:
      description: "Client and court correspondence"
      connectors:
        - type: email
          name: mailbox
          purpose: "Outbound correspondence"
        - type: calendar
          name: docketing
          purpose: "Deadline and hearing docketing"
          optional: true
`
