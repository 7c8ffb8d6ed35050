// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
)

// Options represent server options.
type Options struct {
	Addr      string
	Cert      *tls.Certificate
	DataDir   string
	AvatarDir string
	Debug     bool
	Storage   *storage.Storage
	Listener  net.Listener

	// SessionSecret signs the player session tokens. Empty means an
	// ephemeral secret.
	SessionSecret []byte

	// DefaultOwner supplies tracker credentials used when CREATE_GAME
	// carries none.
	DefaultOwner GameOwner

	// Syncer and Importer override the JIRA client, mainly for tests.
	Syncer   IssueSyncer
	Importer IssueImporter

	// Delays override the lifecycle timers, mainly for tests.
	Delays Delays

	LockTimeout time.Duration
}

// Server represents the running server instance.
type Server struct {
	httpServer *http.Server
	coord      *Coordinator
	sched      *Scheduler
}

// Shutdown gracefully stops the server, the game loops and the snapshot
// writer.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []string
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("http: %v", err))
	}
	s.coord.Shutdown()
	if err := s.sched.Shutdown(); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// StartServer starts the web server and registers the API handlers.
func StartServer(opts Options) (*Server, error) {
	coord, sched, handler := NewServerHandler(opts)

	httpServer := &http.Server{
		Addr:    opts.Addr,
		Handler: handler,
	}
	if opts.Cert != nil {
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*opts.Cert},
		}
	}

	go func() {
		var err error
		if opts.Listener != nil {
			if httpServer.TLSConfig != nil {
				log.Printf("Starting HTTPS server on provided listener %s...", opts.Listener.Addr())
				err = httpServer.ServeTLS(opts.Listener, "", "")
			} else {
				log.Printf("Starting HTTP server on provided listener %s...", opts.Listener.Addr())
				err = httpServer.Serve(opts.Listener)
			}
		} else {
			log.Printf("Server starting on port %s...\n", opts.Addr)
			if opts.Cert != nil {
				err = httpServer.ListenAndServeTLS("", "")
			} else if _, statErr := os.Stat("certs/cert.pem"); statErr == nil {
				log.Println("Starting HTTPS server using certs/cert.pem...")
				err = httpServer.ListenAndServeTLS("certs/cert.pem", "certs/key.pem")
			} else {
				log.Println("Starting HTTP server...")
				err = httpServer.ListenAndServe()
			}
		}
		if err != nil && !errors.Is(err, net.ErrClosed) && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return &Server{httpServer: httpServer, coord: coord, sched: sched}, nil
}

// NewServerHandler creates and configures the HTTP handler for the
// server, along with the coordinator and scheduler it runs on.
func NewServerHandler(opts Options) (*Coordinator, *Scheduler, http.Handler) {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.Storage == nil {
		opts.Storage = storage.New(opts.DataDir, nil)
	}

	debugf := func(string, ...any) {}
	if opts.Debug {
		debugf = func(f string, a ...any) {
			log.Printf("[DEBUG BACKEND] "+f, a...)
		}
	}

	snapshots := NewSnapshotStore(opts.DataDir, opts.Storage)
	registry := NewRegistry(snapshots)
	sched, err := NewScheduler()
	if err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	avatars := NewAvatarService(opts.AvatarDir)
	issueStore := NewIssueStore()
	tokens := NewTokenIssuer(opts.SessionSecret)

	syncer := opts.Syncer
	importer := opts.Importer
	if syncer == nil || importer == nil {
		jc := NewJiraClient(nil)
		if syncer == nil {
			syncer = jc
		}
		if importer == nil {
			importer = jc
		}
	}

	coord := NewCoordinator(CoordinatorOptions{
		Scheduler:   sched,
		Snapshots:   snapshots,
		Registry:    registry,
		Avatars:     avatars,
		Issues:      issueStore,
		Syncer:      syncer,
		Importer:    importer,
		MintToken:   tokens.Mint,
		Owner:       opts.DefaultOwner,
		Delays:      opts.Delays,
		LockTimeout: opts.LockTimeout,
		Debugf:      debugf,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(coord, tokens, w, r, debugf)
	})

	// CSV import stages a backlog against a gameId before the game is
	// created. The CREATE_GAME event then picks it up.
	mux.HandleFunc("/api/import/csv", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		gameID := r.URL.Query().Get("gameId")
		if gameID == "" || !isValidUUID(gameID) {
			http.Error(w, "Invalid gameId", http.StatusBadRequest)
			return
		}
		issues, err := ParseIssuesCSV(http.MaxBytesReader(w, r.Body, 10<<20))
		if err != nil {
			log.Printf("Importing CSV for game %s: %v", gameID, err)
			http.Error(w, "Invalid CSV", http.StatusBadRequest)
			return
		}
		issueStore.Put(gameID, issues)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"gameId": gameID, "issueCount": len(issues)})
	})

	mux.HandleFunc("/api/avatar-sets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(avatars.Sets())
	})

	mux.HandleFunc("/api/avatars/{avatarId}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		avatarID := r.PathValue("avatarId")
		path, ok := avatars.FilePath(avatarID)
		if !ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeFile(w, r, path)
	})

	mux.HandleFunc("/api/games", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		limit, offset := parsePagination(r)
		games := registry.List()
		total := len(games)
		if offset > total {
			offset = total
		}
		end := offset + limit
		if end > total {
			end = total
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"games": games[offset:end],
			"total": total,
		})
	})

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"games":     registry.Count(),
			"instances": coord.InstanceCount(),
		})
	})

	handler := http.Handler(mux)
	handler = loggingMiddleware(handler)
	handler = securityMiddleware(handler)
	handler = cacheControlMiddleware(handler)

	return coord, sched, handler
}

func parsePagination(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil {
			offset = val
		}
	}
	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// cacheControlMiddleware adds Cache-Control headers optimized for PWA reliability behind a proxy.
func cacheControlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/avatars/") {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "private, no-cache, no-transform")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=300, proxy-revalidate, no-transform")
		}
		next.ServeHTTP(w, r)
	})
}

// securityMiddleware adds HTTP security headers to responses.
func securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: blob:")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs the method and URL path of every incoming HTTP request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
