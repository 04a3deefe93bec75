// utilitário pequeno para formatação rápida/consistente de valores em
// headers e para o corpo fixo de rejeição.
//    Evita puxar fmt (que é mais “pesado” e genérico) só para formatação simples
//    O corpo do 429 é um contrato estável com os clientes, então é montado
//        por um tipo nomeado em vez de um mapa solto

package governance

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// retryAfterSeconds arredonda para cima: anunciar 0s de espera para uma
// janela de 500ms convidaria o cliente a voltar cedo demais.
func retryAfterSeconds(d int64) string {
	if d <= 0 {
		return "1"
	}
	return strconv.FormatInt(d, 10)
}

// rejectionBody é o corpo fixo retornado em toda rejeição por rate limit.
type rejectionBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func writeRateLimited(w http.ResponseWriter, retryAfter string, message string) {
	w.Header().Set("Retry-After", retryAfter)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejectionBody{
		Error:      "RATE_LIMIT_EXCEEDED",
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	})
}
