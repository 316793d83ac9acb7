package delivery

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pixveil/pixveil/mod/edgecache"
	"github.com/pixveil/pixveil/mod/imagecache"
	"github.com/pixveil/pixveil/mod/utils"
)

// AdminHandler provides the out-of-band control channel: invalidation,
// status and preload. These never run through the fetch path.
type AdminHandler struct {
	cache       *edgecache.EdgeCache
	adminSecret string
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(cache *edgecache.EdgeCache, adminSecret string) *AdminHandler {
	return &AdminHandler{
		cache:       cache,
		adminSecret: adminSecret,
	}
}

// authenticate checks if the request is authorized
func (ah *AdminHandler) authenticate(r *http.Request) bool {
	if ah.adminSecret == "" {
		// No auth required
		return true
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ") == ah.adminSecret
	}

	return r.URL.Query().Get("secret") == ah.adminSecret
}

// HandleInvalidate removes matching entries from both cache tiers.
// Contract: invalidate(pattern, scope) -> {deletedCount}.
func (ah *AdminHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	if !ah.authenticate(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Pattern string `json:"pattern"`
		Scope   string `json:"scope"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendErrorResponse(w, "Invalid request body")
		return
	}

	if req.Pattern == "" {
		utils.SendErrorResponse(w, "Pattern is required")
		return
	}

	scope, err := imagecache.ParseScope(req.Scope)
	if err != nil {
		utils.SendErrorResponse(w, err.Error())
		return
	}

	matcher, err := imagecache.NewMatcher(req.Pattern, scope)
	if err != nil {
		utils.SendErrorResponse(w, err.Error())
		return
	}

	deleted, err := ah.cache.Invalidate(r.Context(), matcher)
	if err != nil {
		utils.SendErrorResponse(w, "Failed to invalidate: "+err.Error())
		return
	}

	utils.SendJSONResponse(w, map[string]interface{}{
		"deletedCount": deleted,
	})
}

// HandleStatus reports aggregate cache state
func (ah *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !ah.authenticate(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := ah.cache.Status(r.Context())
	if err != nil {
		utils.SendErrorResponse(w, "Failed to read status: "+err.Error())
		return
	}

	utils.SendJSONResponse(w, status)
}

// HandlePreload proactively fills entries for a list of paths. The batch
// always succeeds; per-path failures are reported in the result list.
func (ah *AdminHandler) HandlePreload(w http.ResponseWriter, r *http.Request) {
	if !ah.authenticate(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Paths []string `json:"paths"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendErrorResponse(w, "Invalid request body")
		return
	}

	if len(req.Paths) == 0 {
		utils.SendErrorResponse(w, "Paths are required")
		return
	}

	results := ah.cache.Preload(r.Context(), req.Paths)

	utils.SendJSONResponse(w, map[string]interface{}{
		"results": results,
	})
}
