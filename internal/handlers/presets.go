package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/gm-engine/pkg/preset"
)

type PresetHandler struct {
	log     *slog.Logger
	catalog *preset.Catalog
}

func NewPresetHandler(log *slog.Logger, catalog *preset.Catalog) *PresetHandler {
	return &PresetHandler{
		log:     log,
		catalog: catalog,
	}
}

// ServeHTTP routes:
// GET /v1/presets                           - list worlds
// GET /v1/presets/{worldID}/characters      - player characters of a world
func (h *PresetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.log, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/presets"), "/")
	if path == "" {
		writeJSON(w, h.log, http.StatusOK, h.catalog.Worlds())
		return
	}

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "characters" {
		writeError(w, h.log, http.StatusNotFound, "Not found")
		return
	}
	chars, err := h.catalog.Characters(parts[0])
	if err != nil {
		writeError(w, h.log, http.StatusNotFound, "World not found")
		return
	}
	writeJSON(w, h.log, http.StatusOK, chars)
}
