// Package restapi is the external REST surface spec.md §1 treats as an
// out-of-core-scope collaborator, specified only by the interfaces it
// consumes: the Add-on Manager, the Repository, and the auth Manager.
// Its listen address is one of the Demultiplexer's two upstreams.
//
// Router shape and middleware chain grounded on the teacher's
// cmd/main.go (gin.New() + explicit middleware chain rather than
// gin.Default()), trimmed to the handlers this domain actually needs.
package restapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/webthingsio/gateway/internal/addon"
	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/auth"
	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/repository"
	"github.com/webthingsio/gateway/internal/wire"
)

// Server is the REST upstream the Demultiplexer forwards plain HTTP
// requests to.
type Server struct {
	server *http.Server
}

// NewServer builds a gin router bound to 127.0.0.1:port over repo,
// manager, and authManager.
func NewServer(port int, repo *repository.Cache, manager *addon.Manager, authManager *auth.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.POST("/login", loginHandler(authManager))

	things := router.Group("/things")
	{
		things.GET("", listThings(repo))
		things.GET("/:id", getThing(repo))
		things.POST("", createThing(repo))
	}

	addons := router.Group("/addons")
	{
		addons.GET("", listDevices(manager))
		addons.POST("/:id/enable", enableAddon(manager))
		addons.POST("/:id/disable", disableAddon(manager))
		addons.POST("/:id/restart", restartAddon(manager))
	}

	return &Server{server: &http.Server{Addr: addrFor(port), Handler: router}}
}

func addrFor(port int) string {
	return "127.0.0.1:" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// ListenAndServe blocks serving REST requests.
func (s *Server) ListenAndServe() error {
	logger.DB().Info().Str("addr", s.server.Addr).Msg("REST server starting")
	return s.server.ListenAndServe()
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.server.Close()
}

func requestLogger() gin.HandlerFunc {
	log := logger.DB()
	return func(c *gin.Context) {
		c.Next()
		log.Debug().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).Int("status", c.Writer.Status()).Msg("request")
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var appErr *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		appErr = e
		switch e.Code {
		case apperr.CodeNotFound:
			status = http.StatusNotFound
		case apperr.CodeAlreadyInState:
			status = http.StatusConflict
		case apperr.CodeProtocol, apperr.CodeCapacityExceeded:
			status = http.StatusBadRequest
		case apperr.CodeIntegrityFailure:
			status = http.StatusUnprocessableEntity
		default:
			status = http.StatusInternalServerError
		}
	}
	if appErr != nil {
		c.JSON(status, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func listThings(repo *repository.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		things, err := repo.GetThings(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, things)
	}
}

func getThing(repo *repository.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		thing, err := repo.GetThing(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if thing == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "thing not found"})
			return
		}
		c.JSON(http.StatusOK, thing)
	}
}

func createThing(repo *repository.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var device wire.Device
		if err := c.ShouldBindJSON(&device); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		thing, err := repo.CreateThing(c.Request.Context(), device)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, thing)
	}
}

func listDevices(manager *addon.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		devices := manager.GetDevices()
		out := make(map[string]wire.Device, len(devices))
		for id, device := range devices {
			description, _ := device.Snapshot()
			out[id] = description
		}
		c.JSON(http.StatusOK, out)
	}
}

func enableAddon(manager *addon.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := manager.Enable(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func disableAddon(manager *addon.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := manager.Disable(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func restartAddon(manager *addon.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := manager.Restart(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func loginHandler(authManager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := authManager.Issue(context.Background(), body.Email, body.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}
