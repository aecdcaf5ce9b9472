package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crawler/pkg/storage"
	"crawler/pkg/telegram"
)

// Store is the read-only query surface exposed over HTTP.
type Store interface {
	Stats() (*storage.Stats, error)
	Search(query, chatTitle string, limit int) ([]storage.SearchResult, error)
	Export() (*storage.Export, error)
	Chats() ([]storage.ChatSummary, error)
	Contact(userID int64) (*storage.Contact, error)
}

// Server holds the Gin engine and its collaborators.
type Server struct {
	router   *gin.Engine
	tgClient *telegram.Client
	store    Store
	logger   *zap.Logger
}

// NewServer creates a new API server instance.
func NewServer(tgClient *telegram.Client, store Store, logger *zap.Logger) *Server {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	server := &Server{
		router:   router,
		tgClient: tgClient,
		store:    store,
		logger:   logger,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	tg := s.router.Group("/telegram")
	{
		// Endpoint to submit the Telegram login code
		tg.POST("/auth/code", s.handleAuthCode)
	}

	s.router.GET("/stats", s.handleStats)
	s.router.GET("/search", s.handleSearch)
	s.router.GET("/export", s.handleExport)
	s.router.GET("/chats", s.handleChats)
	s.router.GET("/users/:id", s.handleContact)
}

type authCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) handleAuthCode(c *gin.Context) {
	var req authCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("Failed to bind JSON for auth code", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	select {
	case s.tgClient.AuthCode <- req.Code:
		c.JSON(http.StatusOK, gin.H{"message": "Authentication code received."})
	case <-c.Request.Context().Done():
		s.logger.Warn("Auth code request cancelled")
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "Request timed out or cancelled."})
	case <-time.After(5 * time.Second):
		s.logger.Error("Telegram client not ready to receive code")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram client not ready to receive code."})
	}
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats()
	if err != nil {
		s.logger.Error("Failed to compute stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q query parameter is required"})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit format"})
			return
		}
	}

	results, err := s.store.Search(query, c.Query("chat"), limit)
	if err != nil {
		s.logger.Error("Search failed", zap.Error(err), zap.String("query", query))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleExport(c *gin.Context) {
	export, err := s.store.Export()
	if err != nil {
		s.logger.Error("Export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
		return
	}

	c.JSON(http.StatusOK, export)
}

func (s *Server) handleChats(c *gin.Context) {
	chats, err := s.store.Chats()
	if err != nil {
		s.logger.Error("Failed to list chats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list chats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (s *Server) handleContact(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id format"})
		return
	}

	contact, err := s.store.Contact(userID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to load contact", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load contact"})
		return
	}

	c.JSON(http.StatusOK, contact)
}

// Start runs the API server on the specified address.
func (s *Server) Start(addr string) error {
	s.logger.Info("API server starting", zap.String("address", addr))
	return s.router.Run(addr)
}
