package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/subcapture/internal/config"
	"github.com/Guilhem-Bonnet/subcapture/internal/interceptor"
	"github.com/Guilhem-Bonnet/subcapture/internal/relay"
)

const usage = "Usage: subcap [health|version|status TAB [PAGE]|content TAB [PAGE]|history|history-item ID|clear-history|capture [-tab N] [-page URL] URL]"

func main() {
	def, _ := config.Load()
	baseURL := flag.String("server", def.ServerURL, "URL du serveur (ex: http://127.0.0.1:8080)")
	timeout := flag.Duration("timeout", 10*time.Second, "Timeout HTTP")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	client := &http.Client{Timeout: *timeout}
	api := *baseURL + "/api/v1"

	switch args[0] {
	case "health":
		run(client, http.MethodGet, api+"/health")
	case "version":
		run(client, http.MethodGet, api+"/version")
	case "status", "content":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		run(client, http.MethodGet, tabURL(api, args[1], args[0], args[2:]))
	case "history":
		run(client, http.MethodGet, api+"/history")
	case "history-item":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		run(client, http.MethodGet, api+"/history/"+url.PathEscape(args[1]))
	case "clear-history":
		run(client, http.MethodDelete, api+"/history")
	case "capture":
		os.Exit(capture(*baseURL, *timeout, args[1:]))
	default:
		fmt.Fprintln(os.Stderr, "Commande inconnue:", args[0])
		os.Exit(2)
	}
}

func tabURL(api, tab, what string, rest []string) string {
	if _, err := strconv.Atoi(tab); err != nil {
		fmt.Fprintln(os.Stderr, "Onglet invalide:", tab)
		os.Exit(2)
	}
	u := api + "/tabs/" + tab + "/" + what
	if len(rest) > 0 {
		u += "?pageUrl=" + url.QueryEscape(rest[0])
	}
	return u
}

// capture télécharge une URL à travers l'intercepteur et relaie les captures
// vers le serveur.
func capture(baseURL string, timeout time.Duration, args []string) int {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	tab := fs.Int("tab", 0, "Identifiant d'onglet à associer à la capture")
	page := fs.String("page", "", "URL de la page (clé du cache durable et de l'historique)")
	verbose := fs.Bool("v", false, "Logs détaillés")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: subcap capture [-tab N] [-page URL] URL")
		return 2
	}
	target := fs.Arg(0)

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ic := interceptor.New(interceptor.Options{Logger: logger})
	r := relay.New(logger, ic.Notifier().C(), relay.NewHTTPForwarder(baseURL, &http.Client{Timeout: timeout}))
	r.DefaultTabID = *tab
	r.DefaultPageURL = *page

	done := make(chan int, 1)
	go func() { done <- r.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erreur:", err)
		return 1
	}
	if *page != "" {
		req = req.WithContext(interceptor.WithPage(ctx, interceptor.Page{TabID: *tab, PageURL: *page}))
	}
	client := &http.Client{Transport: ic.Transport(nil)}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erreur:", err)
		return 1
	}
	n, _ := io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	ic.Wait()
	ic.Notifier().Close()
	forwarded := <-done

	fmt.Printf("%s %d (%d octets), %d capture(s) relayée(s)\n", target, resp.StatusCode, n, forwarded)
	if forwarded == 0 {
		return 1
	}
	return 0
}

func run(client *http.Client, method, endpoint string) {
	req, err := http.NewRequest(method, endpoint, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erreur:", err)
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erreur:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	var pretty any
	if err := json.Unmarshal(b, &pretty); err == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(pretty)
		if resp.StatusCode >= 400 {
			os.Exit(1)
		}
		return
	}

	os.Stdout.Write(b)
	os.Stdout.Write([]byte("\n"))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
