// cmd/api/main.go
package main

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
)

func main() {
	escrowServiceURL, _ := url.Parse(getEnv("ESCROW_SERVICE_URL", "http://localhost:8084"))

	escrowProxy := httputil.NewSingleHostReverseProxy(escrowServiceURL)

	http.Handle("/api/v1/escrows/", http.StripPrefix("/api/v1", escrowProxy))
	http.Handle("/api/v1/deposits/", http.StripPrefix("/api/v1", escrowProxy))
	http.Handle("/api/v1/disputes/", http.StripPrefix("/api/v1", escrowProxy))

	port := getEnv("PORT", "8080")
	log.Printf("API Gateway listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
