package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/ligustah/relay/internal/config"
	"github.com/ligustah/relay/internal/dispatch"
	"github.com/ligustah/relay/internal/objectkey"
	"github.com/ligustah/relay/internal/status"
)

type startRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

func (s *Server) startTransfer(c *gin.Context) {
	var req startRequest
	// a malformed body is reported the same way as a missing url
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.URL) == "" {
		fail(c, http.StatusBadRequest, "Missing 'url' parameter")
		return
	}

	key, err := s.dispatcher.Start(c.Request.Context(), req.URL, req.Filename)
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fail(c, http.StatusBadRequest, cfgErr.Error())
			return
		}
		s.log.WithError(err).WithField("url", req.URL).Error("start transfer")
		fail(c, http.StatusInternalServerError, "Failed to start upload")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  status.Pending,
		"key":     key,
		"message": dispatch.MsgStarted,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		key = c.Query("key")
	}
	key = objectkey.Sanitize(key)
	if key == "" {
		fail(c, http.StatusBadRequest, "Missing key")
		return
	}

	rec, err := s.status.Get(c.Request.Context(), key)
	if errors.Is(err, status.ErrNotFound) {
		fail(c, http.StatusNotFound, "No record found")
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("key", key).Error("read status")
		fail(c, http.StatusInternalServerError, "Failed to read status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"status":            rec.Status,
		"file_url":          rec.FileURL,
		"message":           rec.Message,
		"size_bytes":        rec.SizeBytes,
		"original_url":      rec.OriginalURL,
		"download_time_sec": rec.DownloadTimeSec,
		"upload_time_sec":   rec.UploadTimeSec,
	})
}

type listRequest struct {
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
	Status string `form:"status"`
	Q      string `form:"q"`
	Sort   string `form:"sort"`
	Dir    string `form:"dir"`
}

func (s *Server) listUploads(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid query")
		return
	}

	q := status.ListQuery{
		Page:   req.Page,
		Limit:  req.Limit,
		Status: strings.TrimSpace(req.Status),
		Q:      strings.TrimSpace(req.Q),
		Sort:   req.Sort,
		Desc:   !strings.EqualFold(req.Dir, "asc"),
	}
	res, err := s.status.List(c.Request.Context(), q)
	if err != nil {
		s.log.WithError(err).Error("list uploads")
		fail(c, http.StatusInternalServerError, "Failed to list uploads")
		return
	}
	c.JSON(http.StatusOK, res)
}

type keysRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) retryUploads(c *gin.Context) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Keys) == 0 {
		fail(c, http.StatusBadRequest, "Missing keys array")
		return
	}

	results, err := s.dispatcher.Retry(c.Request.Context(), req.Keys)
	if errors.Is(err, dispatch.ErrNoKeys) {
		fail(c, http.StatusBadRequest, "No valid keys")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("retry uploads")
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

func (s *Server) deleteUploads(c *gin.Context) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Keys) == 0 {
		fail(c, http.StatusBadRequest, "No keys received")
		return
	}

	res, err := s.dispatcher.Delete(c.Request.Context(), req.Keys)
	if errors.Is(err, dispatch.ErrNoKeys) {
		fail(c, http.StatusBadRequest, "No keys received")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("delete uploads")
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"deleted_db": res.DeletedDB,
		"deleted_r2": res.DeletedObjects,
		"errors":     res.Errors,
	})
}
