package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/edge/pkg/resolver"
	"github.com/portfolio-assets/assets-go/edge/pkg/respcache"
)

const (
	keyPrefix            = "images"
	immutableCache       = "public, max-age=31536000, immutable"
	cdnCache             = "max-age=31536000"
	notFoundCache        = "public, max-age=60"
	notFoundBody         = "Image not found"
	lookupErrorBody      = "Error loading image"
	statusClientClosed   = 499
	headerResolvedKey    = "X-Resolved-Key"
	headerTransformNotes = "X-Transform-Note"
)

func (s *EdgeServer) serveImage(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()

	key, ok := requestKey(chi.URLParam(r, "*"))
	if !ok {
		s.notFound(w)
		return
	}
	ctx := r.Context()
	hints := resolver.ParseHints(r)
	cacheKey := respcache.RequestKey(key, hints, s.resolver.ConfigVersion())

	if e, ok := s.cache.Get(ctx, cacheKey); ok {
		s.metrics.cache.WithLabelValues("hit").Inc()
		s.write(w, r, hints, e)
		return
	}
	s.metrics.cache.WithLabelValues("miss").Inc()

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if res, err := s.resolver.Stat(ctx, key, hints); err == nil && res.Object.ETag != "" && etagMatches(inm, res.Object.ETag) {
			s.setHeaders(w, hints, res.Key, res.Object.ETag)
			s.observe(http.StatusNotModified, res.Depth)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	res, err := s.resolver.Resolve(ctx, key, hints)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrNotFound):
			s.notFound(w)
		case errors.Is(err, context.Canceled):
			s.metrics.requests.WithLabelValues(strconv.Itoa(statusClientClosed)).Inc()
		default:
			s.log.Error("unable to resolve image", zap.String("key", key), zap.Error(err))
			s.metrics.requests.WithLabelValues(strconv.Itoa(http.StatusInternalServerError)).Inc()
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(lookupErrorBody))
		}
		return
	}

	e := entryFrom(res)
	s.cache.Add(ctx, cacheKey, e)
	s.write(w, r, hints, e)
}

// requestKey maps the wildcard of /images/* to a store key. Paths with ".." segments are rejected,
// file names that merely contain ".." are valid.
func requestKey(wildcard string) (string, bool) {
	if wildcard == "" || strings.HasSuffix(wildcard, "/") || slices.Contains(strings.Split(wildcard, "/"), "..") {
		return "", false
	}
	cleaned := path.Clean("/" + wildcard)
	if cleaned == "/" {
		return "", false
	}
	return keyPrefix + cleaned, true
}

func entryFrom(res *resolver.Result) *respcache.Entry {
	obj := res.Object
	contentType := obj.ContentType
	if contentType == "" {
		contentType = objstore.ContentTypeFor(res.Key)
	}
	etag := obj.ETag
	if etag == "" {
		etag = objstore.ETagFor(obj.Body)
	}
	return &respcache.Entry{
		Key:         res.Key,
		ContentType: contentType,
		ETag:        etag,
		Depth:       res.Depth,
		Body:        obj.Body,
	}
}

func (s *EdgeServer) setHeaders(w http.ResponseWriter, hints resolver.Hints, resolvedKey string, etag string) {
	h := w.Header()
	h.Set("Cache-Control", immutableCache)
	h.Set("CDN-Cache-Control", cdnCache)
	h.Set("ETag", etag)
	h.Set("Vary", "Accept, Save-Data")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set(headerResolvedKey, resolvedKey)
	if hints.SaveData {
		h.Set("X-Save-Data", "on")
	}
	if len(hints.Notes) > 0 {
		h.Set(headerTransformNotes, strings.Join(hints.Notes, "; "))
	}
}

// write sends a fully read entry, or 304 if the request carries a matching validator.
func (s *EdgeServer) write(w http.ResponseWriter, r *http.Request, hints resolver.Hints, e *respcache.Entry) {
	s.setHeaders(w, hints, e.Key, e.ETag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && etagMatches(inm, e.ETag) {
		s.observe(http.StatusNotModified, e.Depth)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", e.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Body)))
	s.observe(http.StatusOK, e.Depth)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(e.Body); err != nil {
		s.log.Debug("unable to write response body", zap.String("key", e.Key), zap.Error(err))
	}
}

func (s *EdgeServer) notFound(w http.ResponseWriter) {
	s.metrics.requests.WithLabelValues(strconv.Itoa(http.StatusNotFound)).Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", notFoundCache)
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(notFoundBody))
}

func (s *EdgeServer) observe(status int, depth int) {
	s.metrics.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	s.metrics.depth.Observe(float64(depth))
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(header string, etag string) bool {
	etag = strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
