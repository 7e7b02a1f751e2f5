// Package ui serves the read-only results browser: an HTML run list, HTML
// reports rendered from markdown, and a JSON view of each run artifact.
package ui

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"narpstat/domain/core"
	"narpstat/internal/logging"
	"narpstat/internal/report"
	"narpstat/ports"
)

// Server is the gin results server
type Server struct {
	router *gin.Engine
	store  ports.RunStore
	log    *logging.Logger
}

// NewServer creates the results server
func NewServer(store ports.RunStore, log *logging.Logger, ginMode string) *Server {
	if ginMode != "" {
		gin.SetMode(ginMode)
	}
	s := &Server{
		router: gin.Default(),
		store:  store,
		log:    log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/runs", s.handleRunList)
	s.router.GET("/runs/:id", s.handleRunReport)
	s.router.GET("/api/runs/:id", s.handleRunJSON)
}

// Run starts the server on the given port
func (s *Server) Run(port string) error {
	s.log.Info("results server listening on :%s", port)
	return s.router.Run(":" + port)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRunList(c *gin.Context) {
	runs, err := s.store.List(c.Request.Context(), 100)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to list runs: %v", err)
		return
	}

	var sb strings.Builder
	sb.WriteString("<ul>\n")
	for _, run := range runs {
		fmt.Fprintf(&sb, `<li><a href="/runs/%s">%s</a> — %s, %s</li>`+"\n",
			run.ID, run.ID, run.Kind, run.CreatedAt)
	}
	sb.WriteString("</ul>\n")
	s.renderPage(c, "Runs", sb.String())
}

func (s *Server) handleRunReport(c *gin.Context) {
	run, err := s.store.Get(c.Request.Context(), core.RunID(c.Param("id")))
	if err != nil {
		if core.IsNotFoundError(err) {
			c.String(http.StatusNotFound, "run not found")
			return
		}
		c.String(http.StatusInternalServerError, "failed to load run: %v", err)
		return
	}
	s.renderPage(c, "Run "+run.ID.String(), string(report.HTML(run)))
}

func (s *Server) handleRunJSON(c *gin.Context) {
	run, err := s.store.Get(c.Request.Context(), core.RunID(c.Param("id")))
	if err != nil {
		if core.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) renderPage(c *gin.Context, title, body string) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(c.Writer, `<!DOCTYPE html>
<html><head><title>%s</title>
<style>body{font-family:sans-serif;max-width:60rem;margin:2rem auto}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:0.3rem 0.6rem}</style>
</head><body><h1>%s</h1>
%s
</body></html>`, title, title, body)
}
