package delivery

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pixveil/pixveil/mod/edgecache"
	"github.com/pixveil/pixveil/mod/imagecache"
	"github.com/pixveil/pixveil/mod/transcoder"
	"github.com/pixveil/pixveil/mod/utils"
)

// Handler serves the image fetch contract:
//
//	GET <prefix><variant-path>?quality=<tier>&w=<px>&progressive=<bool>
//	    &webp=<bool>&viewport=<px>&network=<type>&aggressive=<bool>
//	    &edited=<bool>
//
// Responses always carry Cache-Control, a validator and an X-Cache source
// indicator. Malformed parameters are the only hard failures surfaced to
// the caller; pipeline failures degrade inside the edge tier.
type Handler struct {
	cache  *edgecache.EdgeCache
	prefix string
}

// NewHandler creates the fetch-contract handler. prefix is the URL
// prefix stripped from request paths (e.g. "/img/").
func NewHandler(cache *edgecache.EdgeCache, prefix string) *Handler {
	if prefix == "" {
		prefix = "/img/"
	}
	return &Handler{cache: cache, prefix: prefix}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := h.parseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.cache.Get(r.Context(), req)
	if err != nil {
		// Only ErrInvalidRequest escapes the edge tier
		if errors.Is(err, imagecache.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if req.ForceFresh {
		writeMutationHeaders(w)
	} else {
		writeCacheHeaders(w, resp)

		// Conditional requests only make sense outside the mutation
		// window, where the validator is stable
		if resp.ETag != "" && r.Header.Get("If-None-Match") == resp.ETag {
			w.Header().Set("X-Cache", string(resp.Source))
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("X-Cache", string(resp.Source))

	if r.Method == http.MethodHead {
		return
	}
	w.Write(resp.Payload)
}

// parseRequest validates the query parameters into an edge request
func (h *Handler) parseRequest(r *http.Request) (edgecache.Request, error) {
	path := strings.TrimPrefix(r.URL.Path, h.prefix)

	quality, err := imagecache.ParseQuality(r.URL.Query().Get("quality"))
	if err != nil {
		return edgecache.Request{}, err
	}

	width := 0
	if ws := r.URL.Query().Get("w"); ws != "" {
		width, err = strconv.Atoi(ws)
		if err != nil || width < 1 || width > 8192 {
			return edgecache.Request{}, errors.New("invalid w given")
		}
	}

	viewport := 0
	if vs := r.URL.Query().Get("viewport"); vs != "" {
		// A malformed viewport hint is ignored rather than rejected;
		// it only tunes quality selection
		if v, err := strconv.Atoi(vs); err == nil && v > 0 {
			viewport = v
		}
	}

	return edgecache.Request{
		Path:        path,
		Quality:     quality,
		MaxWidth:    width,
		PreferWebP:  utils.GetBool(r, "webp"),
		Progressive: utils.GetBool(r, "progressive"),
		ForceFresh:  utils.GetBool(r, "edited"),
		Delivery: transcoder.DeliveryContext{
			ViewportWidth: viewport,
			EffectiveType: r.URL.Query().Get("network"),
			Aggressive:    utils.GetBool(r, "aggressive"),
		},
	}, nil
}

// writeCacheHeaders stamps the normal freshness headers
func writeCacheHeaders(w http.ResponseWriter, resp *edgecache.Response) {
	if resp.ETag != "" {
		w.Header().Set("ETag", resp.ETag)
	}
	w.Header().Set("Age", strconv.FormatInt(resp.AgeSeconds, 10))

	if resp.TTLRemaining > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.FormatInt(int64(resp.TTLRemaining.Seconds()), 10))
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
}

// writeMutationHeaders stamps the post-mutation contract: every hop must
// revalidate, and the validator is unique per response so no intermediate
// cache can coalesce two different post-mutation responses
func writeMutationHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("ETag", `"`+uuid.NewString()+`"`)
}
