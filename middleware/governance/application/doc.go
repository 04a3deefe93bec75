// Package application contém os casos de uso da governança de requests.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Govern(ctx, req) roda verificação de token (best-effort) e
// checagem de rate limit, e retorna um Outcome (decisão + identidade).
package application
