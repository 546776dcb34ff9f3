package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snapflowio/mongocdc"
	"github.com/snapflowio/mongocdc/telemetry"
)

type statusSource interface {
	State() mongocdc.Status
}

func adminRouter(src statusSource) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", telemetry.Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.State())
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := src.State()
		code := http.StatusOK
		if st.State == "destroyed" || st.Error != "" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"state": st.State})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
