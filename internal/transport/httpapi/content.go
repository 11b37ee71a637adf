package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/feed"
)

type metadataResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Keywords    string `json:"keywords"`
}

func (s *server) renderMetadata(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	verr := &domain.ValidationError{}
	kind, ok := domain.ParseOwnerKind(q.Get("content_type"))
	if !ok {
		verr.Add("content_type", "допустимые значения: product, category, brand, page")
	}
	slug := q.Get("slug")
	if slug == "" {
		verr.Add("slug", msgRequired)
	}
	if !verr.Empty() {
		writeError(w, r, verr)
		return
	}

	meta, err := s.Metadata.RenderBySlug(r.Context(), kind, slug, cityDomain(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		Title:       meta.Title,
		Description: meta.Description,
		Keywords:    meta.Keywords,
	})
}

func (s *server) serveFeed(w http.ResponseWriter, r *http.Request) {
	file, err := s.Feeds.OpenFeed(r.Context(), cityDomain(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveFile(w, r, file)
}

// serveSitemap отдаёт sitemap домена из параметра domain, city_domain или Host.
func (s *server) serveSitemap(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("domain")
	if target == "" {
		target = cityDomain(r)
	}
	file, err := s.Feeds.OpenSitemap(r.Context(), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveFile(w, r, file)
}

func serveFile(w http.ResponseWriter, r *http.Request, file feed.File) {
	defer file.Body.Close()
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if file.Info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Info.Size, 10))
	}
	if !file.LastModified.IsZero() {
		w.Header().Set("Last-Modified", file.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, file.Body); err != nil {
		requestLogger(r).WithError(err).Warn("failed to stream file")
	}
}
