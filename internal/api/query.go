package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"logsift/internal/constants"
	"logsift/internal/index"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/pkg/errors"
)

// searchRequest builds the store request from the query parameters query,
// sort ("addr" or "-timestamp" style) and, when fieldParam is set, the
// default search field.
func (h *Handler) searchRequest(c *gin.Context, fieldParam string) (store.SearchRequest, error) {
	req := store.SearchRequest{
		Query: c.Query("query"),
		Zone:  h.requestZone(c),
	}
	if name := c.Query(fieldParam); fieldParam != "" && name != "" {
		f, ok := record.Lookup(name)
		if !ok || !f.Queryable() {
			return req, errors.ErrValidation.WithMessage("unknown field %q", name)
		}
		req.Field = f
	}
	if s := c.Query("sort"); s != "" {
		desc := strings.HasPrefix(s, "-")
		f, ok := record.Lookup(strings.TrimPrefix(s, "-"))
		if !ok || !f.Has(record.CapSort) {
			return req, errors.ErrValidation.WithMessage("field %q is not sortable", s)
		}
		req.Sort = index.Sort{Field: f, Desc: desc}
	}
	return req, nil
}

func (h *Handler) Search(c *gin.Context) {
	req, err := h.searchRequest(c, "field")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	res, err := h.Store.Search(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type documentsResponse struct {
	Total int64            `json:"total"`
	Ms    int64            `json:"ms"`
	Docs  []map[string]any `json:"docs"`
}

// Documents returns the matches in [first, last), gzip compressed when the
// client accepts it.
func (h *Handler) Documents(c *gin.Context) {
	req, err := h.searchRequest(c, "field")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	first, err := intParam(c, "first", 0)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	last, err := intParam(c, "last", first+constants.DefaultPageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if first < 0 {
		h.HandleError(c, errors.ErrValidation.WithMessage("first must not be negative"))
		return
	}

	page, err := h.Store.Documents(c.Request.Context(), req, first, last)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := documentsResponse{
		Total: page.Result.Total,
		Ms:    page.Result.Ms,
		Docs:  make([]map[string]any, len(page.Records)),
	}
	for i, rec := range page.Records {
		resp.Docs[i] = recordView(rec, req.Zone)
	}
	h.writeJSON(c, http.StatusOK, resp)
}

// recordView flattens rec for clients: id plus every non-empty field with
// day and time rendered in zone.
func recordView(rec record.Record, zone *time.Location) map[string]any {
	out := make(map[string]any, len(record.Catalog())+len(record.StoredFields())+1)
	out["id"] = rec.ID
	for name, v := range rec.Fields(zone) {
		out[name] = v
	}
	for _, f := range record.StoredFields() {
		if v := rec.Value(f, zone); v != "" {
			out[f.Name()] = v
		}
	}
	return out
}

// writeJSON encodes v, compressing the body when the client accepts gzip.
func (h *Handler) writeJSON(c *gin.Context, status int, v any) {
	if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		c.JSON(status, v)
		return
	}
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Header("Content-Encoding", "gzip")
	c.Header("Vary", "Accept-Encoding")
	c.Status(status)

	zw := gzip.NewWriter(c.Writer)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		h.Logger.ErrorwCtx(c.Request.Context(), "Failed to write response", "error", err)
	}
	if err := zw.Close(); err != nil {
		h.Logger.ErrorwCtx(c.Request.Context(), "Failed to flush response", "error", err)
	}
}

func (h *Handler) GroupCount(c *gin.Context) {
	req, err := h.searchRequest(c, "")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	name := c.Query("field")
	groupBy, ok := record.Lookup(name)
	if !ok {
		h.HandleError(c, errors.ErrValidation.WithMessage("unknown field %q", name))
		return
	}
	counts, err := h.Store.FacetCount(c.Request.Context(), req, groupBy)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) Timeline(c *gin.Context) {
	req, err := h.searchRequest(c, "field")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	span, err := intParam(c, "span", constants.DefaultBucketMinutes)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if span <= 0 {
		h.HandleError(c, errors.ErrValidation.WithMessage("span must be positive"))
		return
	}

	hist, err := h.Store.TimeHistogram(c.Request.Context(), req, span)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

type configResponse struct {
	store.Overview
	Fields   []fieldInfo       `json:"fields"`
	Settings map[string]string `json:"settings,omitempty"`
}

type fieldInfo struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Facet bool   `json:"facet"`
	Sort  bool   `json:"sort"`
}

// Config describes the schema, the values seen so far and the public
// settings.
func (h *Handler) Config(c *gin.Context) {
	zone := h.requestZone(c)
	ov, err := h.Store.Overview(c.Request.Context(), zone)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := configResponse{Overview: ov, Settings: h.Settings}
	for _, f := range record.Catalog() {
		if f.Has(record.CapHidden) {
			continue
		}
		resp.Fields = append(resp.Fields, fieldInfo{
			Name:  f.Name(),
			Kind:  f.Kind().String(),
			Facet: f.Has(record.CapFacet),
			Sort:  f.Has(record.CapSort),
		})
	}
	c.JSON(http.StatusOK, resp)
}
