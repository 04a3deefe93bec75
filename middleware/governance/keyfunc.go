package governance

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc resolve a chave do cliente usada no rate limit.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc monta a cadeia de resolução da chave do cliente:
//
//  1. keyHeader, quando configurado (ex: X-Api-Key)
//  2. cf-connecting-ip (IP injetado pela CDN, o mais confiável)
//  3. x-real-ip
//  4. primeiro IP do x-forwarded-for (cliente original)
//  5. host do RemoteAddr
//  6. "unknown"
//
// O fallback final cai de propósito em um bucket compartilhado em vez de
// recusar o request: sem identidade nenhuma, todo mundo divide a mesma cota.
func DefaultKeyFunc(keyHeader string) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if v := strings.TrimSpace(r.Header.Get("cf-connecting-ip")); v != "" {
			return v
		}
		if v := strings.TrimSpace(r.Header.Get("x-real-ip")); v != "" {
			return v
		}

		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("x-forwarded-for"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				ip := strings.TrimSpace(parts[0])
				if ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
