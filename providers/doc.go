// Package providers holds the provider neutral OAuth2 exchanger. Concrete
// APIs live in subpackages.
package providers
