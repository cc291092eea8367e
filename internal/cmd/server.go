package main

import (
	"fmt"
	"net/http"

	"github.com/patentify/sfide/internal/httpapi"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux.Handle("/", httpapi.NewRouter(httpapi.Opts{
		Sfide:  services.Orchestrator,
		Tokens: services.Auth,
		DBPing: services.DBPing,
	}))
	mux.Handle("/realtime", services.Gateway)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}
