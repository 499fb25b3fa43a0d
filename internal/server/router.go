package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/liverylab/paintrig/backend/internal/auth"
	"github.com/liverylab/paintrig/backend/internal/collab"
)

// CredentialHeader carries the handshake credential blob on the upgrade request.
const CredentialHeader = "X-Paintrig-Credential"

var (
	errMissingVerifier = errors.New("handshake verifier dependency required")
	errMissingEngine   = errors.New("collaboration engine dependency required")
)

// Dependencies wires the HTTP surface. The engine is passed in explicitly;
// nothing reaches it through package-level state.
type Dependencies struct {
	Verifier *auth.HandshakeVerifier
	Engine   *collab.Engine
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing the collaboration endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Engine == nil {
		return nil, errMissingEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", CredentialHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier: deps.Verifier,
		engine:   deps.Engine,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/collab", handler.handleCollab)

	return router, nil
}

type httpHandler struct {
	verifier *auth.HandshakeVerifier
	engine   *collab.Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCollab authenticates the handshake credential and, only on success,
// upgrades to a websocket and admits the connection. A rejected credential
// never opens a socket.
func (h *httpHandler) handleCollab(c *gin.Context) {
	blob := c.GetHeader(CredentialHeader)
	if blob == "" {
		blob = c.Query("credential")
	}

	userID, err := h.verifier.Verify(c.Request.Context(), []byte(blob))
	if err != nil {
		h.logger.Warn("handshake rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": handshakeErrorCode(err)})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.engine.Attach(conn, userID)
}

func handshakeErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, auth.ErrMalformedCredential):
		return "malformed_credential"
	default:
		return "invalid_credential"
	}
}
