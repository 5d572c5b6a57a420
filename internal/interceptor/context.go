package interceptor

import (
	"context"
	"net/http"
)

// SkipHeader marque une requête émise par l'intercepteur lui-même.
// Il est retiré avant l'envoi réel.
const SkipHeader = "X-Subcap-Skip"

type ctxKey int

const (
	skipKey ctxKey = iota
	pageKey
)

// WithSkip marque le contexte: les requêtes qui le portent traversent la
// frontière d'interception sans être classifiées (garde anti-récursion).
func WithSkip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey, true)
}

func skipped(req *http.Request) bool {
	if v, _ := req.Context().Value(skipKey).(bool); v {
		return true
	}
	return req.Header.Get(SkipHeader) != ""
}

// Page identifie l'onglet et la page d'où part une requête.
type Page struct {
	TabID   int
	PageURL string
}

func WithPage(ctx context.Context, p Page) context.Context {
	return context.WithValue(ctx, pageKey, p)
}

func PageFrom(ctx context.Context) (Page, bool) {
	p, ok := ctx.Value(pageKey).(Page)
	return p, ok
}
