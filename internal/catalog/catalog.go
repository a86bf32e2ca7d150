// Package catalog is the compiled-in model registry.
package catalog

import (
	"github.com/fluxytools/chatai/internal/credentials"
	"github.com/fluxytools/chatai/internal/models"
)

// FreeModelID is the model served through the proxy without a user credential
const FreeModelID = "tngtech/deepseek-r1t2-chimera:free"

// NoCredentialsHint is shown by model pickers when only the free model is usable
const NoCredentialsHint = "Add API keys in Profile for more models"

var catalog = []models.ModelDescriptor{
	{ID: FreeModelID, DisplayName: "FluxyTools-2.4", Provider: "FluxyTools", IsFree: true},
	{ID: "anthropic/claude-3.5-sonnet", DisplayName: "Claude 3.5 Sonnet", Provider: "Anthropic"},
	{ID: "openai/gpt-4o", DisplayName: "GPT-4O", Provider: "OpenAI"},
	{ID: "google/gemini-pro-1.5", DisplayName: "Gemini Pro 1.5", Provider: "Google"},
	{ID: "meta-llama/llama-3.1-405b-instruct", DisplayName: "Llama 3.1 405B", Provider: "Meta"},
}

// All returns the catalog in display order
func All() []models.ModelDescriptor {
	return append([]models.ModelDescriptor(nil), catalog...)
}

// Find returns the descriptor for id
func Find(id string) (models.ModelDescriptor, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return models.ModelDescriptor{}, false
}

// IsUsable reports whether modelID can be called: the free model always,
// any other model only with a stored credential.
func IsUsable(modelID string, creds credentials.Lookup) bool {
	if modelID == FreeModelID {
		return true
	}
	if creds == nil {
		return false
	}
	_, ok := creds.Get(modelID)
	return ok
}

// Usable returns the catalog entries that IsUsable accepts
func Usable(creds credentials.Lookup) []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, 0, len(catalog))
	for _, m := range catalog {
		if IsUsable(m.ID, creds) {
			out = append(out, m)
		}
	}
	return out
}
