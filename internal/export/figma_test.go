package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocksmith/internal/storage"
	"mocksmith/pkg/models"
)

func testProject() *models.Project {
	return &models.Project{ID: 3, Name: "Coffee Shop", OwnerID: 7}
}

func testScreens() []models.Screen {
	return []models.Screen{
		{
			ID:        1,
			ProjectID: 3,
			Name:      "Home",
			Content:   "<html><body><h1>Coffee Shop</h1><h2>Fresh daily</h2></body></html>",
		},
		{
			ID:        2,
			ProjectID: 3,
			Name:      "Order History",
			Content:   "<html><body><h1>Your Orders</h1></body></html>",
		},
	}
}

func TestExportBuildsBundle(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	exporter := NewExporter(store)

	result, err := exporter.Export(context.Background(), testProject(), testScreens())
	require.NoError(t, err)

	assert.NotEmpty(t, result.ExportID)
	assert.Equal(t, 2, result.ScreenCount)
	assert.Positive(t, result.SizeBytes)
	assert.Contains(t, result.StorageKey, "exports/7/")

	exists, err := store.Exists(context.Background(), result.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExportBundleContents(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	exporter := NewExporter(store)

	result, err := exporter.Export(context.Background(), testProject(), testScreens())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, store.Download(context.Background(), result.StorageKey, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["manifest.json"])
	assert.True(t, names["frames/home.json"])
	assert.True(t, names["frames/order-history.json"])
	assert.True(t, names["html/home.html"])

	var manifest Manifest
	require.NoError(t, readZipJSON(t, zr, "manifest.json", &manifest))
	assert.Equal(t, "Coffee Shop", manifest.ProjectName)
	assert.Equal(t, 2, manifest.ScreenCount)
	assert.Equal(t, "figma-frames-v1", manifest.Format)

	var frame FigmaFrame
	require.NoError(t, readZipJSON(t, zr, "frames/home.json", &frame))
	assert.Equal(t, "Home", frame.Name)
	assert.Equal(t, "FRAME", frame.Type)
	require.Len(t, frame.Children, 2)
	assert.Equal(t, "Coffee Shop", frame.Children[0].Text)
	assert.Equal(t, 32, frame.Children[0].FontSize)
	assert.Equal(t, "Fresh daily", frame.Children[1].Text)
}

func TestExportFramesLaidOutSideBySide(t *testing.T) {
	project := testProject()
	_, frames, err := buildBundle("exp-1", project, testScreens())
	require.NoError(t, err)

	require.Len(t, frames, 2)
	assert.Equal(t, 0, frames[0].X)
	assert.Equal(t, frameWidth+frameSpacing, frames[1].X)
}

func TestExportRejectsEmptyProject(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = NewExporter(store).Export(context.Background(), testProject(), nil)
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "order-history", slugify("Order History"))
	assert.Equal(t, "home", slugify("Home"))
	assert.Equal(t, "screen", slugify("???"))
}

func readZipJSON(t *testing.T, zr *zip.Reader, name string, dest interface{}) error {
	t.Helper()
	f, err := zr.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
