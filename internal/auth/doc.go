// Package auth verifies bearer tokens and turns their claims into the
// caller identity used by the query pipeline.
//
// Tokens are HS256 JWTs minted by the tenant portal. The tenant and member
// are taken only from verified claims, never from request bodies.
package auth
