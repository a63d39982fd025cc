package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stewardhq/steward/internal/common/logger"
)

// Backend identifies a supported completion provider family. The set is
// closed: adding a backend means adding a case with identical
// event-mapping semantics, not a new normalization path.
type Backend string

const (
	BackendAnthropic   Backend = "anthropic"
	BackendOpenAI      Backend = "openai"
	BackendAzureOpenAI Backend = "azure_openai"
	BackendGemini      Backend = "gemini"
	BackendMistral     Backend = "mistral"
	BackendOllama      Backend = "ollama"
	BackendMock        Backend = "mock"
)

// knownBackends lists every member of the closed union.
var knownBackends = []Backend{
	BackendAnthropic,
	BackendOpenAI,
	BackendAzureOpenAI,
	BackendGemini,
	BackendMistral,
	BackendOllama,
	BackendMock,
}

// ParseBackend validates a manifest kind string.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range knownBackends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unsupported provider kind %q (supported: %s)", s, backendList())
}

func backendList() string {
	names := make([]string, len(knownBackends))
	for i, b := range knownBackends {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}

// ProviderSpec is one entry of the providers.yaml manifest.
type ProviderSpec struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

// Backend returns the validated backend kind for the spec.
func (s ProviderSpec) Backend() (Backend, error) {
	return ParseBackend(s.Kind)
}

// Manifest is the provider registry file format.
type Manifest struct {
	Providers []ProviderSpec `yaml:"providers"`
}

// LoadManifest reads and validates a providers.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest bytes and validates every entry.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse provider manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Providers))
	for i, spec := range m.Providers {
		if spec.Name == "" {
			return nil, fmt.Errorf("provider manifest entry %d has no name", i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate provider name %q in manifest", spec.Name)
		}
		seen[spec.Name] = true
		if _, err := spec.Backend(); err != nil {
			return nil, fmt.Errorf("provider %q: %w", spec.Name, err)
		}
	}
	return &m, nil
}

// CompleterFactory builds a Completer from a manifest entry. Real
// backends are linked in by the binary that hosts their SDK client; the
// registry itself never speaks a wire protocol.
type CompleterFactory func(spec ProviderSpec) (Completer, error)

// Registry maps provider names to completers. The mock backend is bound
// by default so a fresh install can stream without credentials.
type Registry struct {
	mu        sync.RWMutex
	specs     map[string]ProviderSpec
	order     []string
	factories map[Backend]CompleterFactory
	log       *logger.Logger
}

// NewRegistry indexes a manifest. The mock backend is pre-bound.
func NewRegistry(m *Manifest, log *logger.Logger) *Registry {
	r := &Registry{
		specs:     make(map[string]ProviderSpec),
		factories: make(map[Backend]CompleterFactory),
		log:       log,
	}
	r.factories[BackendMock] = func(ProviderSpec) (Completer, error) {
		return NewEchoCompleter(), nil
	}
	if m != nil {
		for _, spec := range m.Providers {
			r.specs[spec.Name] = spec
			r.order = append(r.order, spec.Name)
		}
	}
	return r
}

// Bind installs (or replaces) the completer factory for a backend kind.
func (r *Registry) Bind(kind Backend, factory CompleterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
	r.log.Info("provider backend bound", zap.String("kind", string(kind)))
}

// Lookup returns the manifest entry for a provider name.
func (r *Registry) Lookup(name string) (ProviderSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Names lists configured provider names in manifest order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Completer resolves a provider name to a ready completer and its spec.
// An unknown name or an unbound backend kind returns an actionable
// error rather than a silent fallback.
func (r *Registry) Completer(name string) (Completer, ProviderSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return nil, ProviderSpec{}, fmt.Errorf("unknown provider %q (configured: %s)", name, strings.Join(r.sortedNamesLocked(), ", "))
	}

	backend, err := spec.Backend()
	if err != nil {
		return nil, ProviderSpec{}, err
	}

	if spec.APIKeyEnv != "" && os.Getenv(spec.APIKeyEnv) == "" {
		return nil, ProviderSpec{}, fmt.Errorf("provider %q requires environment variable %s to be set", name, spec.APIKeyEnv)
	}

	factory, ok := r.factories[backend]
	if !ok {
		return nil, ProviderSpec{}, fmt.Errorf("provider kind %q has no linked completer; bind one at startup or use kind: mock", backend)
	}

	completer, err := factory(spec)
	if err != nil {
		return nil, ProviderSpec{}, fmt.Errorf("failed to build completer for provider %q: %w", name, err)
	}
	return completer, spec, nil
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
