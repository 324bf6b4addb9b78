package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"logsift/internal/bulk"
	"logsift/internal/constants"
	"logsift/pkg/errors"
)

type exportStarter func(ctx context.Context, query string, zone *time.Location) (*bulk.Entry, error)

func (h *Handler) ExportTSV(c *gin.Context) {
	h.startExport(c, h.Bulk.ExportTSV)
}

func (h *Handler) ExportSQLite(c *gin.Context) {
	h.startExport(c, h.Bulk.ExportSQLite)
}

func (h *Handler) ExportPostgres(c *gin.Context) {
	h.startExport(c, h.Bulk.ExportPostgres)
}

func (h *Handler) startExport(c *gin.Context, start exportStarter) {
	zone := h.requestZone(c)
	query := c.Query("query")
	if query == "" {
		query = c.PostForm("query")
	}

	e, err := start(c.Request.Context(), query, zone)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, e.Payload(zone))
}

// ImportTSV starts one import job per uploaded file. Files come in the
// multipart field "files"; the optional "chunk" sets rows per commit.
func (h *Handler) ImportTSV(c *gin.Context) {
	zone := h.requestZone(c)
	chunk, err := intParam(c, "chunk", 0)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if chunk < 0 {
		h.HandleError(c, errors.ErrValidation.WithMessage("chunk must not be negative"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithMessage("invalid multipart form"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		h.HandleError(c, errors.ErrValidation.WithMessage("no files uploaded"))
		return
	}

	uploads := make([]bulk.Upload, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.HandleError(c, errors.ErrValidation.WithCause(err).WithMessage("cannot read %s", fh.Filename))
			return
		}
		files = append(files, f)
		uploads = append(uploads, bulk.Upload{Name: fh.Filename, Body: f})
	}

	entries, err := h.Bulk.ImportTSV(c.Request.Context(), uploads, chunk, zone)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]bulk.Payload, len(entries))
	for i, e := range entries {
		out[i] = e.Payload(zone)
	}
	c.JSON(http.StatusAccepted, out)
}

// ListJobs returns every registered job keyed by id, rendered in the
// requester's zone.
func (h *Handler) ListJobs(c *gin.Context) {
	zone := h.requestZone(c)
	entries := h.Bulk.Registry().List()
	out := make(map[string]bulk.Payload, len(entries))
	for _, e := range entries {
		out[e.ID()] = e.Payload(zone)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) RemoveJob(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		h.HandleError(c, errors.ErrValidation.WithMessage("id is required"))
		return
	}
	if err := h.Bulk.Remove(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Download streams a finished job's file gzip compressed as
// logsift.<ext>.gz.
func (h *Handler) Download(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		h.HandleError(c, errors.ErrValidation.WithMessage("id is required"))
		return
	}
	r, e, err := h.Bulk.Artifact(id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	defer r.Close()

	name := constants.ServiceName
	if ext := e.Format.Ext(); ext != "" {
		name += "." + ext
	}
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", `attachment; filename="`+name+`.gz"`)
	c.Status(http.StatusOK)

	zw := gzip.NewWriter(c.Writer)
	n, err := io.Copy(zw, r)
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		h.Logger.ErrorwCtx(c.Request.Context(), "Download interrupted", "job_id", id, "bytes", n, "error", err)
		return
	}
	h.Logger.InfowCtx(c.Request.Context(), "Download complete", "job_id", id, "bytes", n)
}
