// Package proxy expose l'intercepteur comme proxy HTTP de transfert: le
// navigateur (ou un client) l'utilise comme proxy et chaque réponse relayée
// passe par Interceptor.ModifyResponse.
package proxy

import (
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/subcapture/internal/interceptor"
)

// TabHeader porte l'identifiant d'onglet du client; il ne sort jamais du proxy.
const TabHeader = "X-Subcap-Tab"

type Proxy struct {
	logger zerolog.Logger
	rp     *httputil.ReverseProxy
}

// New construit le proxy. transport porte les requêtes sortantes (défaut:
// http.DefaultTransport); il ne doit pas être lui-même intercepté.
func New(logger zerolog.Logger, ic *interceptor.Interceptor, transport http.RoundTripper) *Proxy {
	if transport == nil {
		transport = http.DefaultTransport
	}
	p := &Proxy{logger: logger.With().Str("component", "proxy").Logger()}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        rewrite,
		Transport:      transport,
		ModifyResponse: ic.ModifyResponse,
		ErrorHandler:   p.upstreamError,
	}
	return p
}

// Handler ajoute la récupération de panique et le log d'accès. Pas de routeur:
// le chemin appartient à l'hôte cible.
func (p *Proxy) Handler() http.Handler {
	return chi.Chain(
		middleware.Recoverer,
		hlog.NewHandler(p.logger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Debug().
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Str("method", r.Method).
				Str("url", r.URL.String()).
				Msg("proxy")
		}),
	).Handler(p)
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT is not supported (no TLS interception)", http.StatusMethodNotAllowed)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "proxy requests need an absolute URL", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if r.Header.Get(interceptor.SkipHeader) != "" {
		ctx = interceptor.WithSkip(ctx)
	}
	tabID, _ := strconv.Atoi(r.Header.Get(TabHeader))
	ctx = interceptor.WithPage(ctx, interceptor.Page{TabID: tabID, PageURL: r.Referer()})

	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

// rewrite: Out.URL est déjà une copie absolue de l'URL entrante.
func rewrite(pr *httputil.ProxyRequest) {
	pr.Out.Host = ""
	pr.Out.Header.Del(TabHeader)
	pr.Out.Header.Del(interceptor.SkipHeader)
}

func (p *Proxy) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Warn().Err(err).Str("url", r.URL.String()).Msg("upstream request failed")
	w.WriteHeader(http.StatusBadGateway)
}
