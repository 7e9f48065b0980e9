package gui

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RegisterHandlers serves the static front end found in webRoot. Pages are
// plain files that talk to the api and the event stream from the browser.
func RegisterHandlers(log zerolog.Logger, router *chi.Mux, webRoot string) *chi.Mux {
	log.Info().Msgf("serving front end from %s", webRoot)

	router.Get("/", NewPageHandler(log, filepath.Join(webRoot, "dashboard.html")))
	router.Get("/patient", NewPageHandler(log, filepath.Join(webRoot, "patient.html")))

	FileServer(router, "/static", http.Dir(filepath.Join(webRoot, "static")))

	return router
}

func NewPageHandler(log zerolog.Logger, page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("page", page).Msg("serving page")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, page)
	}
}

func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit any URL parameters.")
	}

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		rctx := chi.RouteContext(r.Context())
		pathPrefix := strings.TrimSuffix(rctx.RoutePattern(), "/*")
		fs := http.StripPrefix(pathPrefix, http.FileServer(root))
		fs.ServeHTTP(w, r)
	})
}
