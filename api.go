package main

import (
	"net/http"
)

/*
	api.go

	Route registration for the fetch contract, the cache control channel
	and the statistics endpoints
*/

// registerAPIs registers all HTTP endpoints on the mux
func registerAPIs(mux *http.ServeMux) {
	// Fetch contract
	mux.Handle(configuration.PathPrefix, fetchHandler)

	// Control channel (out-of-band, never via the fetch path)
	mux.HandleFunc("/_cache/invalidate", adminHandler.HandleInvalidate)
	mux.HandleFunc("/_cache/status", adminHandler.HandleStatus)
	mux.HandleFunc("/_cache/preload", adminHandler.HandlePreload)

	// Observability
	mux.HandleFunc("/_stats/origins", statsCollector.HandleGetAllStats)
	mux.HandleFunc("/_stats/origin", statsCollector.HandleGetStats)
	mux.HandleFunc("/_stats/reset", statsCollector.HandleResetStats)
}
