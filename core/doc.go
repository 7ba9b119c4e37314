// Package core holds the token lifecycle and pagination primitives of the CRM
// client: the access token cache, the per identity refresh coordinator, the
// cursor walker and the typed error taxonomy. Provider packages implement
// OAuthExchanger and PageFetchFunc against a concrete API; core must not
// import them.
package core
