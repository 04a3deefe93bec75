package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/infra"
)

// upstreamResponse é o que o cache guarda de uma rota de lookup: o corpo já
// lido e o suficiente para reproduzir a resposta.
type upstreamResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// lookupClient é o cliente mínimo das buscas cacheadas no upstream.
type lookupClient struct {
	base   *url.URL
	client *http.Client
}

func newLookupClient(base *url.URL, timeout time.Duration) *lookupClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &lookupClient{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

// fetch faz o GET no upstream e materializa a resposta. Respostas 5xx viram
// erro para não entrarem no cache; 4xx são resultados legítimos (ex: 404 de
// um mercado inexistente) e passam adiante como valor.
func (c *lookupClient) fetch(ctx context.Context, path, rawQuery string) (upstreamResponse, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("building upstream request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("fetching %s: %w", u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return upstreamResponse{}, fmt.Errorf("fetching %s: upstream status %d", u.Path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("reading upstream body: %w", err)
	}

	return upstreamResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// cachedLookupHandler serve um prefixo de lookup através do ResponseCache:
// hit fresco responde da memória, miss entra no voo único da chave.
func cachedLookupHandler(cache *infra.ResponseCache[upstreamResponse], client *lookupClient, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := lookupKey(r)
		path, rawQuery := r.URL.Path, r.URL.RawQuery

		resp, err := cache.GetOrFetch(r.Context(), key, ttl, func(ctx context.Context) (upstreamResponse, error) {
			return client.fetch(ctx, path, rawQuery)
		})
		if err != nil {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}

		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	}
}

// lookupKey serializa path e todos os parâmetros de query de forma total e
// determinística. Valores repetidos do mesmo parâmetro entram ordenados e
// cada valor é escapado antes do join: "tag=a&tag=b" e "tag=a,b" têm que
// virar chaves diferentes, a vírgula crua de um valor único não pode se
// confundir com o separador da lista.
func lookupKey(r *http.Request) string {
	query := r.URL.Query()
	params := make(map[string]string, len(query))
	for name, values := range query {
		if len(values) == 0 {
			continue
		}
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		for i, v := range sorted {
			sorted[i] = url.QueryEscape(v)
		}
		params[name] = strings.Join(sorted, ",")
	}
	return infra.CacheKey(r.URL.Path, params)
}
