package server

import (
	"net/http"

	"github.com/rs/cors"
)

var (
	corsMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodOptions,
	}

	// Request headers the extension and x402 clients send.
	corsAllowedHeaders = []string{
		"Content-Type",
		"Authorization",
		"X-Payment",
		"X-Payment-TxHash",
		"X-Payment-Network",
		"X-Payment-Amount",
		"X-Payment-Token",
		"X-Payment-Signature",
		"X-Payment-Address",
		"X-Payment-Challenge",
		"X-Payment-Payload",
		"Access-Control-Expose-Headers",
	}

	// Response headers browser code must be able to read.
	corsExposedHeaders = []string{
		"X-Payment-Required",
		"X-Payment-Address",
		"X-Payment-Amount",
		"X-Payment-Network",
		"X-Payment-Token",
		"X-Payment-Challenge",
		"X-Payment-Payload",
		"X-Payment-Response",
	}
)

// withCORS allows any origin. Preflights are answered by rs/cors and any
// other OPTIONS request gets 204, so neither reaches the payment gate.
func withCORS(next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       corsMethods,
		AllowedHeaders:       corsAllowedHeaders,
		ExposedHeaders:       corsExposedHeaders,
		OptionsSuccessStatus: http.StatusNoContent,
	})
	return c.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
