package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mediahub/internal/apperr"
	"mediahub/internal/domain"
	"mediahub/internal/ratelimit"
	"mediahub/internal/service"
)

type FileResponse struct {
	ID          int64   `json:"id"`
	Filename    string  `json:"filename"`
	Status      string  `json:"status"`
	Size        int64   `json:"size"`
	Type        string  `json:"type"`
	URL         string  `json:"url"`
	Description *string `json:"description"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type CreditsResponse struct {
	Used    int     `json:"used"`
	Limit   int     `json:"limit"`
	ResetAt *string `json:"reset_at"`
}

type FileListResponse struct {
	ResultCount int             `json:"result_count"`
	PageCount   int             `json:"page_count"`
	PageSize    int             `json:"page_size"`
	Page        int             `json:"page"`
	Results     []FileResponse  `json:"results"`
	Credits     CreditsResponse `json:"credits"`
}

func fileToResponse(file *domain.File) FileResponse {
	return FileResponse{
		ID:          file.ID,
		Filename:    file.Filename,
		Status:      string(file.Status),
		Size:        file.Size,
		Type:        file.Type,
		URL:         file.URL,
		Description: file.Description,
		CreatedAt:   file.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   file.UpdatedAt.Format(time.RFC3339),
	}
}

func creditsToResponse(usage ratelimit.Usage) CreditsResponse {
	resp := CreditsResponse{Used: usage.Used, Limit: usage.Limit}
	if usage.ResetAt != nil {
		v := usage.ResetAt.UTC().Format(time.RFC3339)
		resp.ResetAt = &v
	}
	return resp
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "File is too large"})
			return
		}
		badRequest(c, "A file is required")
		return
	}

	filename := strings.TrimSpace(header.Filename)
	contentType := header.Header.Get("Content-Type")
	switch {
	case filename == "":
		badRequest(c, "Filename is required")
		return
	case contentType == "":
		badRequest(c, "Content type is required")
		return
	case header.Size == 0:
		badRequest(c, "File is empty")
		return
	case header.Size > h.cfg.MaxUploadBytes:
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "File is too large"})
		return
	}

	src, err := header.Open()
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		h.writeError(c, err)
		return
	}

	file, err := h.files.Upload(c.Request.Context(), currentUser(c), service.UploadInput{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(content)),
		Content:     content,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fileToResponse(file))
}

func (h *Handler) listFiles(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		h.writeError(c, apperr.Invalid("Page must be a number"))
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		h.writeError(c, apperr.Invalid("Page size must be a number"))
		return
	}

	list, err := h.files.List(c.Request.Context(), currentUser(c), domain.FileListQuery{
		Page:     page,
		PageSize: pageSize,
		SortBy:   domain.FileSortField(c.Query("sort_by")),
		Order:    domain.SortOrder(strings.ToLower(c.Query("order"))),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := FileListResponse{
		ResultCount: list.Total,
		PageCount:   list.PageCount,
		PageSize:    list.PageSize,
		Page:        list.Page,
		Results:     make([]FileResponse, len(list.Files)),
		Credits:     creditsToResponse(list.Credits),
	}
	for i := range list.Files {
		resp.Results[i] = fileToResponse(&list.Files[i])
	}
	c.JSON(http.StatusOK, resp)
}

func fileID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid file id")
		return 0, false
	}
	return id, true
}

func (h *Handler) retryFile(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	file, err := h.files.Retry(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fileToResponse(file))
}

func (h *Handler) cancelFile(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	file, err := h.files.Cancel(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fileToResponse(file))
}

func (h *Handler) deleteFile(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	if err := h.files.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
