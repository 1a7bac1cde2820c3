package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"qcmengine"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
)

type Server struct {
	store   qcmengine.Store
	manager *qcmengine.SessionManager
	cookies *sessions.CookieStore
}

const userSessionName = "qcm_user"

func main() {
	godotenv.Load()
	qcmengine.SetVerbose(os.Getenv("QCM_VERBOSE") == "1")

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY environment variable is required")
	}

	cfg := qcmengine.ConfigFromEnv()

	dbPath := os.Getenv("QCM_DB_PATH")
	if dbPath == "" {
		dbPath = "./qcm.db"
	}
	store, err := qcmengine.OpenSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	if err := store.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	resolver := qcmengine.NewSourceResolver(store, qcmengine.NewPDFTextExtractor(), cfg)
	sampler := qcmengine.NewPromptSampler(cfg.ChunkWords)
	generator := qcmengine.NewOpenAIGenerator(apiKey, cfg)
	coordinator := qcmengine.NewCoordinator(store, resolver, sampler, generator, cfg)
	manager := qcmengine.NewSessionManager(store, coordinator, cfg)

	secret := os.Getenv("QCM_COOKIE_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	server := &Server{
		store:   store,
		manager: manager,
		cookies: sessions.NewCookieStore([]byte(secret)),
	}

	r := chi.NewRouter()
	r.Post("/login", server.handleLogin)
	r.Route("/documents", func(r chi.Router) {
		r.Use(server.withUser)
		r.Post("/", server.handleRegisterDocument)
	})
	r.Route("/qcm", func(r chi.Router) {
		r.Use(server.withUser)
		r.Post("/start", server.handleStart)
		r.Get("/{sessionID}/current", server.handleCurrent)
		r.Post("/{sessionID}/answer", server.handleAnswer)
		r.Post("/{sessionID}/next", server.handleAdvance)
		r.Get("/{sessionID}/result", server.handleResult)
		r.Post("/{sessionID}/close", server.handleClose)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8180"
	}
	log.Printf("Starting server on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, r))
}

// handleLogin binds a user id to the cookie session. Real authentication
// lives in a separate service; this is only the identity glue the quiz API
// needs.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID <= 0 {
		httpError(w, http.StatusBadRequest, "user_id required")
		return
	}
	sess, _ := s.cookies.Get(r, userSessionName)
	sess.Values["user_id"] = body.UserID
	if err := sess.Save(r, w); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to save session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": body.UserID})
}

// withUser requires a logged-in user and stashes its id in the request.
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := s.cookies.Get(r, userSessionName)
		userID, ok := sess.Values["user_id"].(int64)
		if !ok || userID <= 0 {
			httpError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func (s *Server) handleRegisterDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Path  string `json:"path"`
		Pages int    `json:"pages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Path) == "" {
		httpError(w, http.StatusBadRequest, "path required")
		return
	}
	doc := &qcmengine.Document{
		UserID:    userID(r),
		Name:      body.Name,
		Path:      body.Path,
		Pages:     body.Pages,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req qcmengine.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == 0 {
		httpError(w, http.StatusBadRequest, "document_id required")
		return
	}
	res, err := s.manager.Start(r.Context(), userID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Current(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChoiceIndex *int `json:"choice_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChoiceIndex == nil {
		httpError(w, http.StatusBadRequest, "choice_index required")
		return
	}
	res, err := s.manager.Answer(r.Context(), userID(r), chi.URLParam(r, "sessionID"), *body.ChoiceIndex)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Advance(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Result(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Close(r.Context(), userID(r), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "detail": "Closed."})
}

// writeError maps domain errors to stable HTTP responses. Internal failures
// never leak raw error text to clients.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, qcmengine.ErrSessionNotFound),
		errors.Is(err, qcmengine.ErrDocumentNotFound),
		errors.Is(err, qcmengine.ErrQuestionNotFound):
		httpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, qcmengine.ErrForbidden):
		httpError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, qcmengine.ErrSessionExpired):
		httpError(w, http.StatusGone, err.Error())
	case errors.Is(err, qcmengine.ErrQuestionNotReady):
		httpError(w, http.StatusConflict, err.Error())
	case errors.Is(err, qcmengine.ErrInvalidChoice),
		errors.Is(err, qcmengine.ErrSessionFinished),
		errors.Is(err, qcmengine.ErrAlreadyAnswered):
		httpError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("internal error: %v", err)
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

func httpError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
