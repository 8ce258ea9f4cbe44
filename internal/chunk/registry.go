package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how to locate syntactic units in one language.
type LanguageConfig struct {
	Name string

	// SymbolTypes are AST node types treated as chunkable units
	// (functions, methods, classes, type declarations).
	SymbolTypes []string
}

// LanguageRegistry maps language names to tree-sitter grammars and symbol
// node configurations. Construct once at startup; safe for concurrent reads.
type LanguageRegistry struct {
	mu        sync.RWMutex
	configs   map[string]*LanguageConfig
	languages map[string]*sitter.Language
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *LanguageRegistry
)

// DefaultRegistry returns the shared registry with built-in languages.
func DefaultRegistry() *LanguageRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewLanguageRegistry()
	})
	return defaultRegistry
}

// NewLanguageRegistry creates a registry with the built-in languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:   make(map[string]*LanguageConfig),
		languages: make(map[string]*sitter.Language),
	}

	r.register(&LanguageConfig{
		Name: "go",
		SymbolTypes: []string{
			"function_declaration",
			"method_declaration",
			"type_declaration",
		},
	}, golang.GetLanguage())

	r.register(&LanguageConfig{
		Name: "python",
		SymbolTypes: []string{
			"function_definition",
			"class_definition",
			"decorated_definition",
		},
	}, python.GetLanguage())

	r.register(&LanguageConfig{
		Name: "javascript",
		SymbolTypes: []string{
			"function_declaration",
			"class_declaration",
			"method_definition",
			"lexical_declaration",
		},
	}, javascript.GetLanguage())

	r.register(&LanguageConfig{
		Name: "typescript",
		SymbolTypes: []string{
			"function_declaration",
			"class_declaration",
			"method_definition",
			"interface_declaration",
			"type_alias_declaration",
		},
	}, typescript.GetLanguage())

	return r
}

func (r *LanguageRegistry) register(config *LanguageConfig, lang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[config.Name] = config
	r.languages[config.Name] = lang
}

// Get returns the configuration and grammar for a language name.
func (r *LanguageRegistry) Get(name string) (*LanguageConfig, *sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.ToLower(name)
	config, ok := r.configs[name]
	if !ok {
		return nil, nil, false
	}
	return config, r.languages[name], true
}

// Supported reports whether a language has a registered grammar.
func (r *LanguageRegistry) Supported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.configs[strings.ToLower(name)]
	return ok
}

// Languages returns the registered language names.
func (r *LanguageRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}
