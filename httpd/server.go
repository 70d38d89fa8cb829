// Package httpd serves the rendered report directory over HTTP.
package httpd

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yanun0323/logs"
)

// DefaultPort is used when the bind address omits one.
const DefaultPort = 11223

// Server wraps a gin engine serving the report directory, optionally
// behind Basic auth.
type Server struct {
	engine *gin.Engine
	bind   string
	http   *http.Server
}

// New builds a server for the given report directory. auth is a
// space-separated list of base64("user:pass") credentials; empty means
// no authentication.
func New(reportDir, bind, auth string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	if creds := parseCredentials(auth); len(creds) > 0 {
		r.Use(basicAuth(creds))
	}

	// The report directory is served at the root path so the page can
	// fetch report.json relative to itself.
	r.NoRoute(gin.WrapH(http.FileServer(gin.Dir(reportDir, false))))

	return &Server{engine: r, bind: normalizeBind(bind)}
}

// Handler exposes the underlying engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start begins serving in a background goroutine. The listener is
// opened synchronously so bind errors surface to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("httpd: listen %s: %w", s.bind, err)
	}
	s.http = &http.Server{Handler: s.engine}
	logs.Infof("report server listening on %s", s.bind)
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			logs.Errorf("report server: %v", err)
		}
	}()
	return nil
}

// Stop closes the listener and any active connections.
func (s *Server) Stop() error {
	if s.http == nil {
		return nil
	}
	return s.http.Close()
}

func normalizeBind(bind string) string {
	if bind == "" {
		return fmt.Sprintf(":%d", DefaultPort)
	}
	if _, _, err := net.SplitHostPort(bind); err != nil {
		return fmt.Sprintf("%s:%d", bind, DefaultPort)
	}
	return bind
}

func parseCredentials(auth string) map[string]struct{} {
	creds := make(map[string]struct{})
	for _, tok := range strings.Fields(auth) {
		creds[tok] = struct{}{}
	}
	return creds
}

// basicAuth accepts any credential whose base64(user:pass) token is in
// the allowed set. Comparison is over the raw token, so malformed
// entries simply never match.
func basicAuth(allowed map[string]struct{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Basic ")
		if ok {
			for cred := range allowed {
				if subtle.ConstantTimeCompare([]byte(cred), []byte(token)) == 1 {
					c.Next()
					return
				}
			}
		}
		c.Header("WWW-Authenticate", `Basic realm="mmbot report"`)
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}
