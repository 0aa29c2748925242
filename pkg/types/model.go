package types

// Model describes a model advertised by a provider.
type Model struct {
	ID       string `json:"id"`
	Object   string `json:"object,omitempty"`
	OwnedBy  string `json:"owned_by,omitempty"`
	Provider string `json:"provider,omitempty"`
}
