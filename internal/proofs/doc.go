// Package proofs defines the fixed function surface of the external
// zero-knowledge engine: JWT proof generation and verification, ephemeral key
// generation and message signing. The bridge treats every call as opaque and
// synchronous; backends live in sub-packages.
package proofs
