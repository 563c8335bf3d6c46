// Package httpapi exposes the bridge over HTTP: one POST per call, with
// per-client rate limiting, request metrics and a journal view.
package httpapi
