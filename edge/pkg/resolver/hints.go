package resolver

import (
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/portfolio-assets/assets-go/pipeline/pkg/config"
)

// modernFormats are the formats a client has to advertise in its Accept header.
var modernFormats = []string{"avif", "webp"}

// overrideFormats may be requested with ?f=.
var overrideFormats = []string{"avif", "webp", "jpg", "png"}

// Hints are the content negotiation hints of a request.
type Hints struct {
	// Accepted are the modern formats listed in the Accept header.
	Accepted []string
	SaveData bool
	// DPR is the device pixel ratio, 1 if the client did not send one.
	DPR float64
	// ViewportWidth is 0 if the client did not send one.
	ViewportWidth int
	// Width and Format are the ?w= and ?f= overrides, zero values if absent or invalid.
	Width  int
	Format string
	// Notes describe query parameters that were ignored.
	Notes []string
}

func (h Hints) Accepts(format string) bool {
	return slices.Contains(h.Accepted, format)
}

// TargetWidth is the width in physical pixels the client asked for, or 0 if unknown.
func (h Hints) TargetWidth() int {
	if h.Width > 0 {
		return h.Width
	}
	if h.ViewportWidth > 0 {
		return int(math.Ceil(float64(h.ViewportWidth) * h.DPR))
	}
	return 0
}

func ParseHints(r *http.Request) Hints {
	h := Hints{DPR: 1}

	accept := strings.ToLower(r.Header.Get("Accept"))
	for _, f := range modernFormats {
		if strings.Contains(accept, "image/"+f) {
			h.Accepted = append(h.Accepted, f)
		}
	}
	h.SaveData = strings.EqualFold(strings.TrimSpace(r.Header.Get("Save-Data")), "on")

	if dpr, err := strconv.ParseFloat(r.Header.Get("DPR"), 64); err == nil && dpr > 0 && !math.IsInf(dpr, 0) {
		h.DPR = min(dpr, 4)
	}
	for _, header := range []string{"Sec-CH-Viewport-Width", "Viewport-Width"} {
		if vw, err := strconv.Atoi(r.Header.Get(header)); err == nil && vw > 0 {
			h.ViewportWidth = vw
			break
		}
	}

	q := r.URL.Query()
	if w := q.Get("w"); w != "" {
		if width, err := strconv.Atoi(w); err == nil && width > 0 {
			h.Width = width
		} else {
			h.Notes = append(h.Notes, "invalid w ignored")
		}
	}
	if f := q.Get("f"); f != "" {
		f = config.NormalizeFormat(f)
		if slices.Contains(overrideFormats, f) {
			h.Format = f
		} else {
			h.Notes = append(h.Notes, "unsupported f ignored")
		}
	}
	// Variants are pre-rendered, height and quality cannot be changed at request time.
	for _, param := range []string{"h", "q"} {
		if q.Has(param) {
			h.Notes = append(h.Notes, param+" ignored")
		}
	}
	return h
}
