// Package config loads the orchestrator's YAML configuration document and
// exposes the capsule catalogue as a Registry.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/FlexNetOS/capsule-orchestrator/internal/orcherrors"
)

// CapsuleEntry is one registered capsule's static catalogue entry.
type CapsuleEntry struct {
	Path  string `yaml:"path" json:"path"`
	Image string `yaml:"image" json:"image"`
}

type serverSection struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// OrchestratorURL overrides the advertised callback URL entirely, for
	// hosts where the default host-gateway alias does not resolve.
	OrchestratorURL string `yaml:"orchestrator_url"`
}

type dockerSection struct {
	Network  string `yaml:"network"`
	BasePath string `yaml:"base_path"`
}

type llmSection struct {
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
}

type document struct {
	Server   serverSection           `yaml:"server"`
	Docker   dockerSection           `yaml:"docker"`
	LLM      llmSection              `yaml:"llm"`
	Capsules map[string]CapsuleEntry `yaml:"capsules"`
	Workers  int                     `yaml:"workers"`
	LogLevel string                  `yaml:"log_level"`
}

// Registry is the process-wide, read-only view of the configuration
// document. It is constructed once at startup and never mutated afterward.
type Registry struct {
	doc       document
	configDir string
	log       *logrus.Entry
}

// Load reads and normalizes the configuration document at path.
func Load(path string, log *logrus.Logger) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, orcherrors.Config("reading config file", err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, orcherrors.Config("parsing config yaml", err)
	}

	if doc.Server.Port == 0 {
		doc.Server.Port = 8080
	}
	if doc.Server.Host == "" {
		doc.Server.Host = "0.0.0.0"
	}
	if doc.Docker.Network == "" {
		doc.Docker.Network = "capsule-orchestrator-net"
	}
	if doc.Workers <= 0 {
		doc.Workers = 10
	}
	if doc.LogLevel == "" {
		doc.LogLevel = "info"
	}
	if doc.LLM.APIBase == "" {
		doc.LLM.APIBase = "http://192.168.0.186:4000"
	}

	entry := log.WithField("component", "registry")

	r := &Registry{
		doc:       doc,
		configDir: filepath.Dir(path),
		log:       entry,
	}
	r.normalizePaths()
	r.validateCapsules()
	return r, nil
}

func (r *Registry) normalizePaths() {
	if !filepath.IsAbs(r.doc.Docker.BasePath) {
		r.doc.Docker.BasePath = filepath.Join(r.configDir, r.doc.Docker.BasePath)
	}
	for name, entry := range r.doc.Capsules {
		if !filepath.IsAbs(entry.Path) {
			entry.Path = filepath.Join(r.configDir, entry.Path)
		}
		r.doc.Capsules[name] = entry
	}
}

func (r *Registry) validateCapsules() {
	for name, entry := range r.doc.Capsules {
		if _, err := os.Stat(entry.Path); err != nil {
			r.log.Warnf("capsule %q path %q does not exist", name, entry.Path)
			continue
		}
		if _, err := os.Stat(filepath.Join(entry.Path, "Dockerfile")); err != nil {
			r.log.Warnf("capsule %q is missing a Dockerfile at %q", name, entry.Path)
		}
		if _, err := os.Stat(filepath.Join(entry.Path, "schema.json")); err != nil {
			r.log.Warnf("capsule %q is missing schema.json at %q", name, entry.Path)
		}
	}
}

// Capsules returns the full name -> entry catalogue.
func (r *Registry) Capsules() map[string]CapsuleEntry {
	return r.doc.Capsules
}

// Capsule looks up a single catalogue entry.
func (r *Registry) Capsule(name string) (CapsuleEntry, bool) {
	entry, ok := r.doc.Capsules[name]
	return entry, ok
}

// SchemaPath returns the on-disk location of a capsule's schema.json.
func (r *Registry) SchemaPath(name string) (string, bool) {
	entry, ok := r.doc.Capsules[name]
	if !ok {
		return "", false
	}
	return filepath.Join(entry.Path, "schema.json"), true
}

func (r *Registry) ServerHost() string { return r.doc.Server.Host }
func (r *Registry) ServerPort() int    { return r.doc.Server.Port }
func (r *Registry) Network() string    { return r.doc.Docker.Network }
func (r *Registry) BasePath() string   { return r.doc.Docker.BasePath }
func (r *Registry) Workers() int       { return r.doc.Workers }
func (r *Registry) LogLevel() string   { return r.doc.LogLevel }

// OrchestratorURL returns the URL a containerized capsule must use to call
// back into the RPC surface. Binding 0.0.0.0 is never advertised verbatim:
// it is translated to the host-gateway alias a container can actually reach.
func (r *Registry) OrchestratorURL() string {
	if r.doc.Server.OrchestratorURL != "" {
		return r.doc.Server.OrchestratorURL
	}
	if r.doc.Server.Host == "0.0.0.0" {
		return fmt.Sprintf("http://host.docker.internal:%d", r.doc.Server.Port)
	}
	return fmt.Sprintf("http://%s:%d", r.doc.Server.Host, r.doc.Server.Port)
}

// LLMAPIBase returns the configured LLM endpoint.
func (r *Registry) LLMAPIBase() string {
	return r.doc.LLM.APIBase
}

// LLMAPIKey resolves the credential a capsule should receive. The
// environment variable takes precedence over the config document; an empty
// result is never returned because some OpenAI-compatible clients reject an
// empty key outright.
func (r *Registry) LLMAPIKey() string {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		return v
	}
	if r.doc.LLM.APIKey != "" {
		return r.doc.LLM.APIKey
	}
	return "dummy"
}
