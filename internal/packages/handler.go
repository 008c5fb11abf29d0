package packages

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"learnhub/internal/apperr"
)

const (
	multipartMemory = 32 << 20
	formHeadroom    = 1 << 20
)

type Handler struct {
	Service *Service
	// MaxUploadBytes bounds the whole request body of ingest and edit calls.
	MaxUploadBytes int64
}

func NewHandler(svc *Service, maxUploadBytes int64) *Handler {
	return &Handler{Service: svc, MaxUploadBytes: maxUploadBytes}
}

// RegisterRoutes mounts the public browse endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.list)     // GET /packages
	rg.GET("/:ref", h.get) // GET /packages/:ref
}

// RegisterAdminRoutes mounts the mutating endpoints. The caller gates rg.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.create)       // POST /admin/packages
	rg.PATCH("/:id", h.update)  // PATCH /admin/packages/:id
	rg.DELETE("/:id", h.remove) // DELETE /admin/packages/:id
}

func (h *Handler) list(c *gin.Context) {
	q := ListQuery{
		Q:             c.Query("q"),
		SubjectAreaID: parseInt64(c.Query("subject_area_id"), 0),
		TagID:         parseInt64(c.Query("tag_id"), 0),
		Type:          c.Query("type"),
		Limit:         parseInt(c.Query("limit"), 20),
		Offset:        parseInt(c.Query("offset"), 0),
	}

	items, total, err := h.Service.List(c.Request.Context(), q)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	q = q.normalized()
	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
		"items":  items,
	})
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.Service.Lookup(c.Request.Context(), c.Param("ref"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) create(c *gin.Context) {
	if err := h.parseForm(c); err != nil {
		apperr.Respond(c, err)
		return
	}
	form := c.Request.PostForm

	archiveFile, _, err := openFormFile(c, "archive")
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if archiveFile == nil {
		apperr.RespondKind(c, apperr.InvalidInput, "archive file is required")
		return
	}
	defer archiveFile.Close()

	in := CreateInput{
		Title:       form.Get("title"),
		Description: form.Get("description"),
		Archive:     archiveFile,
	}
	if in.SubjectAreaID, _, err = formInt64(form, "subject_area_id"); err != nil {
		apperr.Respond(c, err)
		return
	}
	if in.TagIDs, err = formIDs(form, "tag_ids"); err != nil {
		apperr.Respond(c, err)
		return
	}

	coverFile, coverName, err := openFormFile(c, "cover")
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if coverFile != nil {
		defer coverFile.Close()
		in.Cover = &Upload{Filename: coverName, Body: coverFile}
	}

	p, err := h.Service.Create(c.Request.Context(), in)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.parseForm(c); err != nil {
		apperr.Respond(c, err)
		return
	}
	form := c.Request.PostForm

	var in UpdateInput
	if v, ok := form["title"]; ok && len(v) > 0 {
		in.Title = &v[0]
	}
	if v, ok := form["description"]; ok && len(v) > 0 {
		in.Description = &v[0]
	}
	subjectAreaID, present, err := formInt64(form, "subject_area_id")
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	in.SubjectAreaID = subjectAreaID
	in.ClearSubjectArea = present && subjectAreaID == nil
	if _, ok := form["tag_ids"]; ok {
		if in.TagIDs, err = formIDs(form, "tag_ids"); err != nil {
			apperr.Respond(c, err)
			return
		}
		if in.TagIDs == nil {
			in.TagIDs = []int64{}
		}
	}

	coverFile, coverName, err := openFormFile(c, "cover")
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if coverFile != nil {
		defer coverFile.Close()
		in.Cover = &Upload{Filename: coverName, Body: coverFile}
	}

	p, err := h.Service.Update(c.Request.Context(), id, in)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) remove(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.Service.Delete(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted": true,
		"id":      res.Package.ID,
		"slug":    res.Package.Slug,
		"cleanup": res.Cleanup,
	})
}

// parseForm reads a multipart or urlencoded body into PostForm, bounded by
// MaxUploadBytes.
func (h *Handler) parseForm(c *gin.Context) error {
	if h.MaxUploadBytes > 0 {
		// headroom for the other form fields
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+formHeadroom)
	}
	err := c.Request.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = c.Request.ParseForm()
	}
	if err == nil {
		return nil
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return apperr.Errorf(apperr.PackageTooLarge, "read upload", "upload exceeds %d bytes", tooBig.Limit)
	}
	return apperr.New(apperr.InvalidInput, "read form", err)
}

// openFormFile opens the first file sent as field, if any.
func openFormFile(c *gin.Context, field string) (multipart.File, string, error) {
	if c.Request.MultipartForm == nil || len(c.Request.MultipartForm.File[field]) == 0 {
		return nil, "", nil
	}
	fh := c.Request.MultipartForm.File[field][0]
	f, err := fh.Open()
	if err != nil {
		return nil, "", apperr.New(apperr.InvalidInput, "open "+field, err)
	}
	return f, fh.Filename, nil
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apperr.RespondKind(c, apperr.InvalidInput, "invalid package id")
		return 0, false
	}
	return id, true
}

// formInt64 reads an optional positive id. present reports whether the
// field was sent at all, so an empty value can mean "clear".
func formInt64(form url.Values, field string) (v *int64, present bool, err error) {
	vals, ok := form[field]
	if !ok || len(vals) == 0 {
		return nil, false, nil
	}
	s := strings.TrimSpace(vals[0])
	if s == "" || s == "null" {
		return nil, true, nil
	}
	n, convErr := strconv.ParseInt(s, 10, 64)
	if convErr != nil || n <= 0 {
		return nil, true, apperr.Errorf(apperr.InvalidInput, "read form", "%s must be a positive integer", field)
	}
	return &n, true, nil
}

// formIDs accepts tag_ids=1&tag_ids=2 or tag_ids=1,2.
func formIDs(form url.Values, field string) ([]int64, error) {
	var out []int64
	for _, raw := range form[field] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.ParseInt(part, 10, 64)
			if err != nil || n <= 0 {
				return nil, apperr.Errorf(apperr.InvalidInput, "read form", "%s: %q is not a valid id", field, part)
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func parseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseInt64(s string, def int64) int64 {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}
