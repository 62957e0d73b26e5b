// Package server exposes the narration HTTP API and the static mounts that
// make stored audio URLs resolvable.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/blobstore"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/pipeline"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second

	// Audio artifacts are content-addressed and never mutated, so clients
	// may cache them for a year.
	audioCacheControl = "public, max-age=31536000"
	contentTypeAudio  = "audio/mpeg"
	contentTypeJSON   = "application/json"
)

// Static errors.
var (
	// ErrNoSelector indicates a clear-cache request that names nothing to clear.
	ErrNoSelector = errors.New("request must set clearAll, voiceId, or contentHash and voiceId")
	// ErrMethodNotAllowed indicates a request with an unsupported HTTP method.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// ObjectGetter fetches stored audio bytes for the objects mount. Nil when
// object storage is unconfigured.
type ObjectGetter interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Server is the narration HTTP API.
type Server struct {
	orchestrator *pipeline.Orchestrator
	synthesizer  core.Synthesizer
	cache        core.CacheStore
	objects      ObjectGetter
	listenAddr   string
	mux          *http.ServeMux
	log          *logger.Logger
}

// New wires the API with all dependencies. uploadsRoot is served under
// /uploads/; objects may be nil.
func New(
	orchestrator *pipeline.Orchestrator,
	synthesizer core.Synthesizer,
	cache core.CacheStore,
	objects ObjectGetter,
	uploadsRoot, listenAddr string,
	log *logger.Logger,
) *Server {
	srv := &Server{
		orchestrator: orchestrator,
		synthesizer:  synthesizer,
		cache:        cache,
		objects:      objects,
		listenAddr:   listenAddr,
		mux:          http.NewServeMux(),
		log:          log,
	}

	srv.mux.HandleFunc("/tts/generate", srv.handleGenerate)
	srv.mux.HandleFunc("/tts/voices", srv.handleVoices)
	srv.mux.HandleFunc("/tts/clear-cache", srv.handleClearCache)
	srv.mux.HandleFunc("/tts/cache-stats", srv.handleCacheStats)
	srv.mux.HandleFunc(blobstore.ObjectsMount, srv.handleObject)
	srv.mux.Handle(blobstore.UploadsMount, cacheFriendly(
		http.StripPrefix(blobstore.UploadsMount, http.FileServer(http.Dir(uploadsRoot)))))

	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.mux.ServeHTTP(writer, request)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.System("Narration API listening on %s", s.listenAddr)

		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}

		return nil
	case err := <-errCh:
		return fmt.Errorf("HTTP server stopped: %w", err)
	}
}

type generateRequest struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voiceId"`
	BookID       string `json:"bookId,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
}

type generateResponse struct {
	AudioURL  string         `json:"audioUrl"`
	Alignment core.Alignment `json:"alignment"`
}

func (s *Server) handleGenerate(writer http.ResponseWriter, request *http.Request) {
	if !requireMethod(writer, request, http.MethodPost) {
		return
	}

	var body generateRequest

	err := json.NewDecoder(request.Body).Decode(&body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))

		return
	}

	result, err := s.orchestrator.Generate(request.Context(), pipeline.GenerateRequest{
		Text:         body.Text,
		VoiceID:      body.VoiceID,
		BookID:       body.BookID,
		LanguageCode: body.LanguageCode,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrTextRequired) || errors.Is(err, pipeline.ErrVoiceRequired) {
			status = http.StatusBadRequest
		}

		s.log.Error("Generation failed: %v", err)
		writeError(writer, status, err)

		return
	}

	writeJSON(writer, http.StatusOK, generateResponse{
		AudioURL:  result.AudioURL,
		Alignment: result.Alignment,
	})
}

func (s *Server) handleVoices(writer http.ResponseWriter, request *http.Request) {
	if !requireMethod(writer, request, http.MethodGet) {
		return
	}

	catalog, err := s.synthesizer.ListVoices(request.Context())
	if err != nil {
		s.log.Error("Voice catalog fetch failed: %v", err)
		writeError(writer, http.StatusBadGateway, err)

		return
	}

	writer.Header().Set("Content-Type", contentTypeJSON)
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write(catalog)
}

type clearCacheRequest struct {
	ClearAll    bool   `json:"clearAll,omitempty"`
	VoiceID     string `json:"voiceId,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
}

type clearCacheResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) handleClearCache(writer http.ResponseWriter, request *http.Request) {
	if !requireMethod(writer, request, http.MethodDelete) {
		return
	}

	var body clearCacheRequest

	err := json.NewDecoder(request.Body).Decode(&body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))

		return
	}

	deleted, err := s.clearCache(request.Context(), body)
	if errors.Is(err, ErrNoSelector) {
		writeError(writer, http.StatusBadRequest, err)

		return
	}

	if err != nil {
		s.log.Error("Cache clear failed: %v", err)
		writeError(writer, http.StatusInternalServerError, err)

		return
	}

	writeJSON(writer, http.StatusOK, clearCacheResponse{Deleted: deleted})
}

func (s *Server) clearCache(ctx context.Context, body clearCacheRequest) (int64, error) {
	switch {
	case body.ClearAll:
		return s.cache.DeleteAll(ctx)
	case body.ContentHash != "" && body.VoiceID != "":
		return s.cache.DeleteOne(ctx, body.ContentHash, body.VoiceID)
	case body.VoiceID != "":
		return s.cache.DeleteByVoice(ctx, body.VoiceID)
	default:
		return 0, ErrNoSelector
	}
}

func (s *Server) handleCacheStats(writer http.ResponseWriter, request *http.Request) {
	if !requireMethod(writer, request, http.MethodGet) {
		return
	}

	stats, err := s.cache.Stats(request.Context())
	if err != nil {
		s.log.Error("Cache stats failed: %v", err)
		writeError(writer, http.StatusInternalServerError, err)

		return
	}

	writeJSON(writer, http.StatusOK, stats)
}

// handleObject streams audio out of the object store for URLs minted by the
// NATS blob backend.
func (s *Server) handleObject(writer http.ResponseWriter, request *http.Request) {
	if !requireMethod(writer, request, http.MethodGet) {
		return
	}

	if s.objects == nil {
		http.NotFound(writer, request)

		return
	}

	path := request.URL.Path[len(blobstore.ObjectsMount):]

	data, err := s.objects.Get(request.Context(), path)
	if err != nil {
		http.NotFound(writer, request)

		return
	}

	writer.Header().Set("Content-Type", contentTypeAudio)
	writer.Header().Set("Cache-Control", audioCacheControl)
	_, _ = writer.Write(data)
}

func requireMethod(writer http.ResponseWriter, request *http.Request, method string) bool {
	if request.Method != method {
		writeError(writer, http.StatusMethodNotAllowed,
			fmt.Errorf("%w: %s", ErrMethodNotAllowed, request.Method))

		return false
	}

	return true
}

func cacheFriendly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Cache-Control", audioCacheControl)
		next.ServeHTTP(writer, request)
	})
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", contentTypeJSON)
	writer.WriteHeader(status)

	_ = json.NewEncoder(writer).Encode(payload)
}

func writeError(writer http.ResponseWriter, status int, err error) {
	writeJSON(writer, status, map[string]string{"error": err.Error()})
}
