package llm

// LLMRegistry defines the registry operations used by the daemon and the
// tutor wiring
type LLMRegistry interface {
	// List returns all registered provider names
	List() []string

	// Default returns the default provider
	Default() (Provider, error)

	// Get retrieves a provider by name
	Get(name string) (Provider, error)
}

// Ensure Registry implements LLMRegistry
var _ LLMRegistry = (*Registry)(nil)
