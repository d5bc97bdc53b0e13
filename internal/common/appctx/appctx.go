// Package appctx provides context helpers for work that outlives a request.
package appctx

import "context"

// Detach returns a context carrying the parent's values but none of its
// cancellation or deadline. Work handed off from an HTTP handler, like an
// assistant child pumping output, runs under the detached context so it
// survives the request that started it. Stopping such work is the owner's
// job (interrupt, close), not the context's.
func Detach(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}
