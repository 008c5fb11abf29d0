package content

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub/internal/apperr"
	"learnhub/internal/archive"
	"learnhub/internal/packages"
	"learnhub/internal/storage"
	"learnhub/internal/testsupport"
	"learnhub/pkg/models"
)

func newStack(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testsupport.NewConfig(t)
	db := testsupport.NewDB(t, cfg)
	store := storage.New(cfg.Storage, nil)
	require.NoError(t, store.Init())

	extractor := archive.NewExtractor(archive.Limits{
		MaxEntries: cfg.Storage.MaxEntries,
		MaxBytes:   cfg.Storage.MaxExtractedBytes(),
	}, cfg.Storage.ManifestName, nil)
	svc := packages.NewService(packages.NewRepo(db), store, extractor, nil, nil, cfg.Storage.MaxUploadBytes())

	r := gin.New()
	pkgs := packages.NewHandler(svc, cfg.Storage.MaxUploadBytes())
	pkgs.RegisterRoutes(r.Group("/packages"))
	pkgs.RegisterAdminRoutes(r.Group("/admin/packages"))
	NewHandler(NewResolver(svc, store, nil), NewGateway(time.Hour, nil)).RegisterRoutes(r.Group("/packages"))
	return r, cfg.Storage.Root
}

func request(r http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env apperr.ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Error.Code
}

func TestForOrSinceLifecycle(t *testing.T) {
	r, root := newStack(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "For or Since!"))
	fw, err := mw.CreateFormFile("archive", "for-or-since.h5p")
	require.NoError(t, err)
	_, err = fw.Write(testsupport.ZipBytes(t, testsupport.PackageEntries()))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := request(r, http.MethodPost, "/admin/packages", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p models.Package
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	require.Equal(t, "for-or-since", p.Slug)
	assert.DirExists(t, filepath.Join(root, "for-or-since"))

	w = request(r, http.MethodGet, "/packages/for-or-since/files/h5p.json", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testsupport.ValidManifest, w.Body.String())

	w = request(r, http.MethodGet, "/packages/"+strconv.FormatInt(p.ID, 10)+"/files/content/content.json", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = request(r, http.MethodGet, "/packages/for-or-since/files/", nil, "")
	assert.Equal(t, http.StatusOK, w.Code, "an empty path serves the manifest")
	assert.Equal(t, testsupport.ValidManifest, w.Body.String())

	w = request(r, http.MethodGet, "/packages/for-or-since/files/content/missing.png", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperr.AssetNotFound), errorCode(t, w))

	w = request(r, http.MethodGet, "/packages/for-or-since/files/content/..%2F..%2F..%2Fetc%2Fpasswd", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.PathTraversalRejected), errorCode(t, w))

	w = request(r, http.MethodDelete, "/admin/packages/"+strconv.FormatInt(p.ID, 10), nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoDirExists(t, filepath.Join(root, "for-or-since"))

	w = request(r, http.MethodGet, "/packages/for-or-since/files/h5p.json", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperr.PackageNotFound), errorCode(t, w))
}
