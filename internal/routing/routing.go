// Package routing decides whether a request goes through the server proxy
// or directly to the completion API with a user credential.
package routing

import (
	"errors"
	"fmt"

	"github.com/fluxytools/chatai/internal/catalog"
	"github.com/fluxytools/chatai/internal/credentials"
)

// Target is where a completion request is sent
type Target int

const (
	// TargetProxy is the server endpoint holding the shared credential
	TargetProxy Target = iota
	// TargetExternal is the completion API called with the user's key
	TargetExternal
)

func (t Target) String() string {
	switch t {
	case TargetProxy:
		return "proxy"
	case TargetExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ErrMissingCredential is returned when an external route has no key
var ErrMissingCredential = errors.New("no api key configured for model")

// Route is the outcome of Resolve
type Route struct {
	Target Target
	Model  string
	APIKey string
	// Substituted is set when the requested model was not usable and the
	// free model was used instead. Callers reset their selection.
	Substituted bool
}

// Resolve picks the route for requested using the stored credentials
func Resolve(requested string, creds credentials.Lookup) (Route, error) {
	route := Route{Model: requested}
	if !catalog.IsUsable(requested, creds) {
		route.Model = catalog.FreeModelID
		route.Substituted = true
	}

	if route.Model == catalog.FreeModelID {
		route.Target = TargetProxy
		return route, nil
	}

	route.Target = TargetExternal
	key, ok := creds.Get(route.Model)
	if !ok || key == "" {
		return route, fmt.Errorf("%w: %s", ErrMissingCredential, route.Model)
	}
	route.APIKey = key
	return route, nil
}
