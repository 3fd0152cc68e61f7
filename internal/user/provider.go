// ABOUTME: Closed set of third-party LLM providers a user can store keys for
// ABOUTME: The single place to extend when a provider is added

package user

import (
	"errors"
	"fmt"
)

// Provider names a third-party API whose key a user may store.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
	ProviderGrok   Provider = "grok"
)

// DefaultProvider is the preferred provider of a new user.
const DefaultProvider = ProviderOpenAI

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderGrok}

// ErrUnknownProvider is returned for a provider name outside Providers.
var ErrUnknownProvider = errors.New("unknown provider")

// ParseProvider validates name against Providers.
func ParseProvider(name string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	_, err := ParseProvider(string(p))
	return err == nil
}
