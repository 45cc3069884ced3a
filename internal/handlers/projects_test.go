package handlers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocksmith/pkg/models"
)

func TestCreateAndListProjects(t *testing.T) {
	env := newTestEnv(t, buildResponse("unused"))

	w := env.post(t, "/projects", gin.H{"name": "Coffee Shop", "description": "ordering app"})
	require.Equal(t, http.StatusCreated, w.Code)

	var createResp struct {
		Data models.Project `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	assert.Equal(t, "Coffee Shop", createResp.Data.Name)
	assert.Equal(t, env.user.ID, createResp.Data.OwnerID)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	lw := httptest.NewRecorder()
	env.router.ServeHTTP(lw, req)
	require.Equal(t, http.StatusOK, lw.Code)

	var listResp struct {
		Data       []models.Project `json:"data"`
		Pagination *PaginationInfo  `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &listResp))
	require.Len(t, listResp.Data, 1)
	assert.EqualValues(t, 1, listResp.Pagination.Total)
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t, buildResponse("unused"))

	w := env.post(t, "/projects", gin.H{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
}

func TestDeleteProjectReclaimsStorage(t *testing.T) {
	env := newTestEnv(t, buildResponse("unused"))

	project := models.Project{Name: "shop", OwnerID: env.user.ID}
	require.NoError(t, env.db.Create(&project).Error)
	require.NoError(t, env.db.Create(&models.Screen{
		ProjectID: project.ID, Name: "Home", Path: "screens/home.html",
		Content: "<html></html>", Size: 1024,
	}).Error)

	req := httptest.NewRequest(http.MethodDelete, "/projects/1", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reclaimed_bytes":1024`)

	var count int64
	env.db.Model(&models.Project{}).Where("owner_id = ?", env.user.ID).Count(&count)
	assert.Zero(t, count)
}

func TestGetProjectIncludesOrderedScreens(t *testing.T) {
	env := newTestEnv(t, buildResponse("unused"))

	project := models.Project{Name: "shop", OwnerID: env.user.ID}
	require.NoError(t, env.db.Create(&project).Error)
	require.NoError(t, env.db.Create(&models.Screen{
		ProjectID: project.ID, Name: "Checkout", Path: "screens/checkout.html", Position: 1,
	}).Error)
	require.NoError(t, env.db.Create(&models.Screen{
		ProjectID: project.ID, Name: "Home", Path: "screens/home.html", Position: 0,
	}).Error)

	req := httptest.NewRequest(http.MethodGet, "/projects/1", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data models.Project `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Screens, 2)
	assert.Equal(t, "Home", resp.Data.Screens[0].Name)
	assert.Equal(t, "Checkout", resp.Data.Screens[1].Name)
}

func TestCreateExportEndpoint(t *testing.T) {
	env := newTestEnv(t, buildResponse("unused"))

	project := models.Project{Name: "shop", OwnerID: env.user.ID}
	require.NoError(t, env.db.Create(&project).Error)
	require.NoError(t, env.db.Create(&models.Screen{
		ProjectID: project.ID, Name: "Home", Path: "screens/home.html",
		Content: "<html><h1>Shop</h1></html>", Size: 26,
	}).Error)

	w := env.post(t, "/projects/1/exports", gin.H{})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data models.FigmaExport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.ExportID)
	assert.Equal(t, 1, resp.Data.ScreenCount)
	assert.Equal(t, "completed", resp.Data.Status)
	assert.NotEmpty(t, resp.Data.DownloadURL)
}

func TestDownloadExportServesBundle(t *testing.T) {
	env := newTestEnv(t, buildResponse("unused"))

	project := models.Project{Name: "shop", OwnerID: env.user.ID}
	require.NoError(t, env.db.Create(&project).Error)
	require.NoError(t, env.db.Create(&models.Screen{
		ProjectID: project.ID, Name: "Home", Path: "screens/home.html",
		Content: "<html><h1>Shop</h1></html>", Size: 26,
	}).Error)

	w := env.post(t, "/projects/1/exports", gin.H{})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data models.FigmaExport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.DownloadURL)

	// The local-storage download URL must resolve to a served zip.
	dw := env.request(t, http.MethodGet, resp.Data.DownloadURL)
	require.Equal(t, http.StatusOK, dw.Code)
	assert.Equal(t, "application/zip", dw.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(dw.Body.Bytes()), int64(dw.Body.Len()))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "manifest.json")
	assert.Contains(t, names, "html/home.html")
}

func TestDownloadExportUnknownKeyNotFound(t *testing.T) {
	env := newTestEnv(t, buildResponse("unused"))

	w := env.request(t, http.MethodGet, "/api/v1/exports/download/exports%2F999%2Fmissing.zip")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "EXPORT_NOT_FOUND")
}

func TestCreateExportRequiresScreens(t *testing.T) {
	env := newTestEnv(t, buildResponse("unused"))

	project := models.Project{Name: "empty", OwnerID: env.user.ID}
	require.NoError(t, env.db.Create(&project).Error)

	w := env.post(t, "/projects/1/exports", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "NO_SCREENS")
}
