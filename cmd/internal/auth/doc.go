// Package auth verifies access tokens minted by the identity service.
//
// Kanva does not issue end-user tokens itself. The server only needs to map
// a bearer token presented on the hello command (or an HTTP Authorization
// header) to a user id. Verification is PASETO v4.public: the identity
// service signs with its Ed25519 secret key and Kanva holds only the public
// half.
//
// A dev issuer exists for local smoke testing, where running a separate
// identity service would be overkill.
package auth
