// Package server exposes the farm-record REST contract over HTTP, backed by
// the SQLite store and the AI service.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"

	"strawberrytrace/internal/ai"
	"strawberrytrace/internal/models"
	"strawberrytrace/internal/store"
)

type Server struct {
	db      store.DB
	ai      *ai.Service
	clients sync.Map

	imagesDir string
	photoDir  string
	qrDir     string
	debug     bool
}

// New wires the server to its collaborators.
func New(db store.DB, aiService *ai.Service, imagesDir, photoDir, qrDir string, debug bool) *Server {
	if debug {
		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.Println("Debug logging enabled")
	}
	return &Server{
		db:        db,
		ai:        aiService,
		imagesDir: imagesDir,
		photoDir:  photoDir,
		qrDir:     qrDir,
		debug:     debug,
	}
}

// Router builds the full route table. The API lives under /api; the static
// frontend is served from staticDir at the root.
func (s *Server) Router(staticDir string) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/strawberries", s.handleListStrawberries).Methods("GET")
	api.HandleFunc("/strawberries", s.handleCreateStrawberry).Methods("POST")
	api.HandleFunc("/strawberries/search", s.handleSearchStrawberry).Methods("GET")
	api.HandleFunc("/strawberries/{id:[0-9]+}", s.handleGetStrawberry).Methods("GET")
	api.HandleFunc("/strawberries/{id:[0-9]+}/delete", s.handleDeleteStrawberry).Methods("POST")
	api.HandleFunc("/strawberries/{id:[0-9]+}/status", s.handleUpdateStatus).Methods("POST")
	api.HandleFunc("/strawberries/{id:[0-9]+}/records", s.handleAddRecord).Methods("POST")
	api.HandleFunc("/strawberries/{id:[0-9]+}/records/{rid:[0-9]+}/delete", s.handleDeleteRecord).Methods("POST")
	api.HandleFunc("/statistics", s.handleStatistics).Methods("GET")
	api.HandleFunc("/ai/config", s.handleGetAIConfig).Methods("GET")
	api.HandleFunc("/ai/config", s.handleUpdateAIConfig).Methods("POST")
	api.HandleFunc("/ai/test", s.handleTestAI).Methods("POST")
	api.HandleFunc("/ai/status", s.handleAIStatus).Methods("GET")
	api.HandleFunc("/ai/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/photos/capture", s.handleCapturePhoto).Methods("POST")
	api.HandleFunc("/images/{path:.*}", s.handleServeImage).Methods("GET")

	r.HandleFunc("/ws", s.handleWebSocket)
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

// Start serves until SIGINT/SIGTERM.
func (s *Server) Start(port, staticDir string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	router := s.Router(staticDir)
	go func() {
		log.Printf("Starting server on port %s\n", port)
		if err := http.ListenAndServe(":"+port, router); err != nil {
			log.Fatal("ListenAndServe:", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down server...")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Println("Error writing response:", err)
	}
}

func writeSuccess(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, models.OK(data, message))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.Fail(message))
}
