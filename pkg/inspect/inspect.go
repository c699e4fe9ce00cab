// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package inspect serves a read-only HTTP view of a data manager: committed
// records with their in-flight entries and the operations the conflict tracker
// holds.
package inspect

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/conflict"
	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

// Source is what the inspection API reads from. *datamanager.Manager
// implements it.
type Source interface {
	Records() []record.Record
	Record(id string) (record.Record, bool)
	Pending() []conflict.Operation
	Running() map[string]int
	Syntax() scope.Syntax
}

type tempView struct {
	Key      string `json:"key"`
	Mutation string `json:"mutation"`
	State    string `json:"state"`
	Value    any    `json:"value,omitempty"`
}

type recordView struct {
	ID        string     `json:"id"`
	Committed any        `json:"committed"`
	InFlight  []tempView `json:"inFlight,omitempty"`
}

type operationView struct {
	RecordID string `json:"recordId"`
	Key      string `json:"key"`
	Scope    string `json:"scope"`
	ChildID  string `json:"childId,omitempty"`
	Mutation string `json:"mutation"`
}

func toView(rec record.Record, root string) recordView {
	out := recordView{ID: rec.ID, Committed: rec.Committed}

	if rec.Master != nil {
		out.InFlight = append(out.InFlight, tempView{
			Key:      root,
			Mutation: string(rec.Master.Mutation),
			State:    string(rec.Master.State),
			Value:    rec.Master.Value,
		})
	}

	for key, entry := range rec.Scoped {
		out.InFlight = append(out.InFlight, tempView{
			Key:      key,
			Mutation: string(entry.Mutation),
			State:    string(entry.State),
			Value:    entry.Value,
		})
	}

	return out
}

// NewRouter builds the gin engine with the inspection routes.
func NewRouter(src Source, log *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(ginzap.Ginzap(log.Desugar(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log.Desugar(), true))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	router.GET("/records", func(c *gin.Context) {
		root := src.Syntax().Root
		records := src.Records()

		out := make([]recordView, 0, len(records))
		for _, rec := range records {
			out = append(out, toView(rec, root))
		}

		c.JSON(http.StatusOK, out)
	})

	router.GET("/records/:id", func(c *gin.Context) {
		id := c.Param("id")

		rec, ok := src.Record(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "record not found",
				"status":  http.StatusNotFound,
				"message": "No record with id " + id + " is held.",
			})

			return
		}

		c.JSON(http.StatusOK, toView(rec, src.Syntax().Root))
	})

	router.GET("/operations", func(c *gin.Context) {
		syntax := src.Syntax()
		pending := src.Pending()

		ops := make([]operationView, 0, len(pending))
		for _, op := range pending {
			ops = append(ops, operationView{
				RecordID: op.RecordID,
				Key:      op.Key,
				Scope:    syntax.Format(op.Scope),
				ChildID:  op.ChildID,
				Mutation: string(op.Mutation),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"operations": ops,
			"running":    src.Running(),
		})
	})

	return router
}

// Server is the inspection HTTP server.
type Server struct {
	srv    *http.Server
	logger *zap.SugaredLogger
}

// NewServer creates a server for addr. Call Start to serve.
func NewServer(addr string, src Source, log *zap.SugaredLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src, log),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Inspection server stopped: %v", err)
			metrics.IncErrorCount(metrics.ComponentInspect, s.srv.Addr)
		}
	}()
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
