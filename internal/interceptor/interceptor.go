// Package interceptor observe le trafic HTTP d'une page pour y repérer les
// sous-titres, sans jamais modifier ce que la page reçoit.
package interceptor

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Guilhem-Bonnet/subcapture/internal/canon"
	"github.com/Guilhem-Bonnet/subcapture/internal/classifier"
	"github.com/Guilhem-Bonnet/subcapture/internal/connector"
	"github.com/Guilhem-Bonnet/subcapture/internal/metrics"
)

const (
	DefaultMaxBodyBytes  = 8 << 20
	DefaultRefetchRPS    = 2
	DefaultMaxConcurrent = 4
	refetchTimeout       = 15 * time.Second
	gateWaitTimeout      = 30 * time.Second
)

var blacklistRe = regexp.MustCompile(`(?i)thumb|sprite|preview|tile`)

// Outcome résume le sort d'une réponse observée.
type Outcome string

const (
	OutcomeIgnored  Outcome = "ignored"
	OutcomeBusy     Outcome = "busy"
	OutcomeError    Outcome = "error"
	OutcomeNotText  Outcome = "not_text"
	OutcomeEmpty    Outcome = "empty"
	OutcomeDecoy    Outcome = "decoy"
	OutcomeCaptured Outcome = "captured"
	OutcomeDropped  Outcome = "dropped"
)

type Options struct {
	Registry *connector.Registry
	Notifier *Notifier
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics

	MaxBodyBytes  int64
	MaxConcurrent int
	RefetchRPS    float64
	// RefetchTransport porte les re-fetch internes (défaut: http.DefaultTransport).
	// Il est lui-même enveloppé par l'intercepteur: la garde skip s'applique.
	RefetchTransport http.RoundTripper

	Now func() time.Time
}

type Interceptor struct {
	registry *connector.Registry
	notifier *Notifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	maxBody int64
	gate    *Gate
	limiter *rate.Limiter
	client  *http.Client
	now     func() time.Time

	wg sync.WaitGroup
}

func New(opts Options) *Interceptor {
	if opts.Registry == nil {
		opts.Registry = connector.DefaultRegistry(opts.Logger)
	}
	if opts.Notifier == nil {
		opts.Notifier = NewNotifier(0)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	burst := 1
	if opts.RefetchRPS > 0 {
		limit = rate.Limit(opts.RefetchRPS)
		if int(opts.RefetchRPS) > burst {
			burst = int(opts.RefetchRPS)
		}
	}

	i := &Interceptor{
		registry: opts.Registry,
		notifier: opts.Notifier,
		logger:   opts.Logger.With().Str("component", "interceptor").Logger(),
		metrics:  opts.Metrics,
		maxBody:  opts.MaxBodyBytes,
		gate:     NewGate(opts.MaxConcurrent),
		limiter:  rate.NewLimiter(limit, burst),
		now:      opts.Now,
	}
	base := opts.RefetchTransport
	if base == nil {
		base = http.DefaultTransport
	}
	i.client = &http.Client{Transport: i.Transport(base), Timeout: refetchTimeout}
	return i
}

func (i *Interceptor) Notifier() *Notifier { return i.notifier }

// SetMaxConcurrentExtractions ajuste la gate à chaud (réglages runtime).
func (i *Interceptor) SetMaxConcurrentExtractions(n int) { i.gate.SetLimit(n) }

func (i *Interceptor) MaxConcurrentExtractions() int { return i.gate.Limit() }

// Wait bloque jusqu'à la fin des extractions en cours.
func (i *Interceptor) Wait() { i.wg.Wait() }

// Classify applique la liste noire puis le registre.
func (i *Interceptor) Classify(rawURL string) (connector.Connector, bool) {
	if rawURL == "" || blacklistRe.MatchString(rawURL) {
		return nil, false
	}
	return i.registry.Resolve(rawURL)
}

// Transport enveloppe un RoundTripper (primitive requête → réponse).
func (i *Interceptor) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{i: i, next: next}
}

type roundTripper struct {
	i    *Interceptor
	next http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if skipped(req) {
		if req.Header.Get(SkipHeader) != "" {
			req = req.Clone(req.Context())
			req.Header.Del(SkipHeader)
		}
		return rt.next.RoundTrip(req)
	}
	c, ok := rt.i.Classify(req.URL.String())
	if !ok {
		return rt.next.RoundTrip(req)
	}
	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.i.attach(req, resp, c)
	return resp, nil
}

// ModifyResponse s'utilise comme httputil.ReverseProxy.ModifyResponse
// (primitive pilotée par callback). Ne renvoie jamais d'erreur.
func (i *Interceptor) ModifyResponse(resp *http.Response) error {
	if resp == nil || resp.Request == nil || skipped(resp.Request) {
		return nil
	}
	c, ok := i.Classify(resp.Request.URL.String())
	if !ok {
		return nil
	}
	i.attach(resp.Request, resp, c)
	return nil
}

func (i *Interceptor) attach(req *http.Request, resp *http.Response, c connector.Connector) {
	page, _ := PageFrom(req.Context())
	rawURL := req.URL.String()
	enc := contentEncoding(resp.Header)

	if req.Method == http.MethodHead || resp.StatusCode == http.StatusPartialContent || !decodable(enc) {
		i.scheduleRefetch(req, page, c)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.Body == nil || resp.Body == http.NoBody {
		return
	}
	resp.Body = &teeBody{
		rc:    resp.Body,
		limit: i.maxBody,
		done: func(body []byte) {
			i.dispatch(page, rawURL, c, body, enc)
		},
		abandoned: func() {
			i.scheduleRefetch(req, page, c)
		},
	}
}

// dispatch extrait hors du chemin de lecture de la page. Gate pleine: on
// attend une place, au plus gateWaitTimeout.
func (i *Interceptor) dispatch(page Page, rawURL string, c connector.Connector, body []byte, enc string) {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if !i.gate.TryAcquire() {
			i.logger.Debug().Str("url", rawURL).Msg("extraction gate full, waiting")
			ctx, cancel := context.WithTimeout(context.Background(), gateWaitTimeout)
			err := i.gate.Acquire(ctx)
			cancel()
			if err != nil {
				i.record(c, OutcomeBusy)
				i.logger.Warn().Err(err).Str("url", rawURL).Msg("extraction gate full, capture dropped")
				return
			}
		}
		defer i.gate.Release()
		i.process(page, rawURL, c, body, enc)
	}()
}

// Observe extrait une réponse déjà lue par la page, quelle que soit sa
// représentation: texte, tampon binaire, ou valeur générique (io.Reader ou
// valeur JSON).
func (i *Interceptor) Observe(ctx context.Context, rawURL string, body any) Outcome {
	if v, _ := ctx.Value(skipKey).(bool); v {
		return OutcomeIgnored
	}
	c, ok := i.Classify(rawURL)
	if !ok {
		return OutcomeIgnored
	}
	raw, err := i.bodyBytes(body)
	if err != nil {
		i.logger.Warn().Err(err).Str("url", rawURL).Msg("unreadable observed body")
		i.record(c, OutcomeError)
		return OutcomeError
	}
	if err := i.gate.Acquire(ctx); err != nil {
		i.record(c, OutcomeBusy)
		return OutcomeBusy
	}
	defer i.gate.Release()

	page, _ := PageFrom(ctx)
	return i.process(page, rawURL, c, raw, "")
}

func (i *Interceptor) bodyBytes(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case io.Reader:
		return readLimited(v, i.maxBody)
	default:
		return json.Marshal(v)
	}
}

func (i *Interceptor) process(page Page, rawURL string, c connector.Connector, body []byte, enc string) (outcome Outcome) {
	logger := i.logger.With().Str("url", rawURL).Str("connector", c.Name()).Int("tab_id", page.TabID).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("extraction panicked")
			outcome = OutcomeError
		}
		i.record(c, outcome)
	}()

	if enc != "" {
		decoded, err := decode(body, enc, i.maxBody)
		if err != nil {
			logger.Warn().Err(err).Str("encoding", enc).Msg("failed to decode intercepted body")
			return OutcomeError
		}
		body = decoded
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return OutcomeEmpty
	}
	if !isText(body) {
		logger.Debug().Msg("intercepted body is not text")
		return OutcomeNotText
	}

	text := i.registry.Convert(c, body, rawURL)
	if !canon.HasCues(text) {
		return OutcomeEmpty
	}
	if classifier.IsThumbnailTrack(text) {
		i.metrics.Decoy("interceptor")
		logger.Debug().Msg("thumbnail sprite track ignored")
		return OutcomeDecoy
	}

	note := Notification{
		ID:            xid.New().String(),
		SourceURL:     rawURL,
		CanonicalText: text,
		TabID:         page.TabID,
		PageURL:       page.PageURL,
		CapturedAt:    i.now().UnixMilli(),
	}
	if !i.notifier.Notify(note) {
		i.metrics.Notification("suppressed")
		return OutcomeDropped
	}
	i.metrics.Notification("sent")
	logger.Info().Int("bytes", len(text)).Msg("subtitle captured")
	return OutcomeCaptured
}

func (i *Interceptor) record(c connector.Connector, outcome Outcome) {
	name := "none"
	if c != nil {
		name = c.Name()
	}
	i.metrics.Extraction(name, string(outcome))
}

// scheduleRefetch relit la ressource quand la réponse de la page ne peut pas
// être dupliquée (HEAD, 206, encodage non géré). La requête porte le marqueur
// skip et repasse par l'intercepteur.
func (i *Interceptor) scheduleRefetch(req *http.Request, page Page, c connector.Connector) {
	rawURL := req.URL.String()
	header := refetchHeader(req.Header)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()

		ctx, cancel := context.WithTimeout(WithSkip(context.Background()), refetchTimeout)
		defer cancel()

		if err := i.limiter.Wait(ctx); err != nil {
			i.record(c, OutcomeBusy)
			return
		}
		if err := i.gate.Acquire(ctx); err != nil {
			i.record(c, OutcomeBusy)
			return
		}
		defer i.gate.Release()

		body, err := i.refetch(ctx, rawURL, header)
		if err != nil {
			i.logger.Warn().Err(err).Str("url", rawURL).Msg("subtitle refetch failed")
			i.record(c, OutcomeError)
			return
		}
		i.process(page, rawURL, c, body, "")
	}()
}

func (i *Interceptor) refetch(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = header
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("refetch: unexpected status %d", resp.StatusCode)
	}
	// Le transport décompresse lui-même: Accept-Encoding n'est pas recopié.
	return readLimited(resp.Body, i.maxBody)
}

func refetchHeader(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for k, v := range src {
		ck := http.CanonicalHeaderKey(k)
		if ck == "Range" || ck == "Accept-Encoding" || ck == SkipHeader || strings.HasPrefix(ck, "If-") {
			continue
		}
		out[ck] = append([]string(nil), v...)
	}
	return out
}

func contentEncoding(h http.Header) string {
	enc := strings.ToLower(strings.TrimSpace(h.Get("Content-Encoding")))
	if enc == "identity" {
		return ""
	}
	return enc
}

func decodable(enc string) bool {
	switch enc {
	case "", "gzip", "x-gzip", "deflate":
		return true
	default:
		return false
	}
}

func decode(body []byte, enc string, limit int64) ([]byte, error) {
	switch enc {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readLimited(zr, limit)
	case "deflate":
		// "deflate" en HTTP est normalement du zlib, parfois du flate brut.
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer zr.Close()
			return readLimited(zr, limit)
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return readLimited(fr, limit)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return b, nil
}

// isText remonte l'arbre mimetype jusqu'à text/plain (json, xml, vtt, srt en
// descendent).
func isText(body []byte) bool {
	for m := mimetype.Detect(body); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// teeBody copie ce que la page lit. EOF atteint: la copie part en extraction.
// Fermé avant l'EOF: la copie est incomplète, abandoned relance une lecture
// indépendante de la ressource.
type teeBody struct {
	rc        io.ReadCloser
	buf       bytes.Buffer
	limit     int64
	overflow  bool
	once      sync.Once
	done      func([]byte)
	abandoned func()
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 && !t.overflow {
		if int64(t.buf.Len()+n) > t.limit {
			t.overflow = true
			t.buf = bytes.Buffer{}
		} else {
			t.buf.Write(p[:n])
		}
	}
	if err == io.EOF {
		t.finish()
	}
	return n, err
}

func (t *teeBody) Close() error {
	t.once.Do(func() {
		t.buf = bytes.Buffer{}
		if t.overflow || t.abandoned == nil {
			return
		}
		t.abandoned()
	})
	return t.rc.Close()
}

func (t *teeBody) finish() {
	t.once.Do(func() {
		if t.overflow || t.done == nil {
			return
		}
		body := append([]byte(nil), t.buf.Bytes()...)
		t.buf = bytes.Buffer{}
		t.done(body)
	})
}
