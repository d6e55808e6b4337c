package handlers

import (
	"encoding/json"
	"net/http"
)

// Health answers liveness probes. It touches no backend.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
