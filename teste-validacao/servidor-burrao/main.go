package main

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Upstream falso de dados de mercado, usado para validar o gateway na mão:
// serve JSON enlatado e conta quantas vezes foi chamado, o que deixa fácil
// enxergar o cache e a proteção contra stampede funcionando (muitos GETs no
// gateway, poucos hits aqui).
func main() {
	var hits atomic.Int64

	http.HandleFunc("/api/markets", func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"markets":[{"id":"btc-usd","question":"BTC acima de 100k?","price":0.62}],"upstreamHits":%d}`, n)
		fmt.Printf("Log: hit %d em /api/markets (%s)\n", n, r.URL.RawQuery)
	})

	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	fmt.Println("Upstream falso rodando em http://localhost:8082")
	if err := http.ListenAndServe(":8082", nil); err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
