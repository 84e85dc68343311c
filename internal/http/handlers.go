package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/chat"
	"github.com/fyrsmithlabs/tierkb/internal/docstore"
)

// LoginRequest is the request body for POST /api/v1/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for POST /api/v1/login.
type LoginResponse struct {
	Username    string `json:"username"`
	AccessLevel string `json:"access_level"`
}

// handleLogin verifies credentials and issues a session cookie.
func (s *Server) handleLogin(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	user := s.users.Verify(req.Username, req.Password)
	if user == nil {
		s.logger.Warn("failed login", zap.String("username", req.Username))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	if err := s.issueSession(c, user); err != nil {
		s.logger.Error("issuing session", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	// Warm the knowledge base for this identity. A failed build is
	// not a login failure; the chat path retries lazily.
	if err := s.knowledge.EnsureFresh(c.Request().Context(), user); err != nil {
		s.logger.Warn("knowledge warmup failed",
			zap.String("username", user.Username),
			zap.Error(err),
		)
	}

	return c.JSON(http.StatusOK, LoginResponse{
		Username:    user.Username,
		AccessLevel: user.AccessLevel,
	})
}

// handleLogout expires the session cookie and forgets the caller's
// conversation history.
func (s *Server) handleLogout(c echo.Context) error {
	user := sessionUser(c)
	s.dropHistory(user.Username)
	s.clearSession(c)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ChatRequest is the request body for POST /api/v1/chat.
type ChatRequest struct {
	Query   string `json:"query"`
	Backend string `json:"backend"`
}

// ChatResponse is the response body for POST /api/v1/chat.
type ChatResponse struct {
	Response     string `json:"response"`
	ResponseTime string `json:"response_time"`
}

// handleChat answers a query against the caller's accessible
// knowledge.
//
// Generation failures are not HTTP errors: the answer string carries
// the failure and the status stays 200.
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	kind, err := chat.ParseKind(req.Backend)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown backend")
	}

	user := sessionUser(c)
	history := s.history(user.Username)

	answer, elapsed := s.answerer.Answer(c.Request().Context(), user, req.Query, history, kind)
	history.Add(req.Query, answer)

	return c.JSON(http.StatusOK, ChatResponse{
		Response:     answer,
		ResponseTime: elapsed,
	})
}

// UploadResponse is the response body for POST /api/v1/upload.
type UploadResponse struct {
	Uploaded []string `json:"uploaded"`
}

// handleUpload accepts multipart documents into a tier directory.
//
// The target tier comes from the access_level form field and defaults
// to the uploader's own tier. Uploading into a tier the caller cannot
// see is forbidden.
func (s *Server) handleUpload(c echo.Context) error {
	user := sessionUser(c)

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form required")
	}

	tierName := c.FormValue("access_level")
	if tierName == "" {
		tierName = user.AccessLevel
	}

	target, err := s.policy.Parse(tierName)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown access level")
	}
	userTier, err := s.policy.Parse(user.AccessLevel)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	if !s.policy.Visible(target, userTier) {
		s.logger.Warn("upload to inaccessible tier refused",
			zap.String("username", user.Username),
			zap.String("tier", tierName),
		)
		return echo.NewHTTPError(http.StatusForbidden, "access level not permitted")
	}

	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files provided")
	}
	if len(files) > s.config.MaxFiles {
		return echo.NewHTTPError(http.StatusBadRequest, "too many files")
	}

	var saved []string
	// New documents make every cached index stale, including files
	// saved before a later one in the batch is rejected.
	defer func() {
		if len(saved) > 0 {
			s.knowledge.Invalidate()
		}
	}()
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
		}
		path, err := s.docs.SaveUpload(fh.Filename, src, tierName)
		src.Close()
		if err != nil {
			switch {
			case errors.Is(err, docstore.ErrExtensionNotAllowed):
				return echo.NewHTTPError(http.StatusBadRequest, "file extension not allowed")
			case errors.Is(err, docstore.ErrFileTooLarge):
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
			default:
				s.logger.Error("saving upload", zap.String("filename", fh.Filename), zap.Error(err))
				return echo.NewHTTPError(http.StatusInternalServerError, "upload failed")
			}
		}
		saved = append(saved, path)
	}

	return c.JSON(http.StatusOK, UploadResponse{Uploaded: saved})
}
