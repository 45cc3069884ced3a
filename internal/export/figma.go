// Package export builds Figma-importable bundles from generated screens.
// A bundle is a zip holding a manifest, one frame description per screen,
// and the raw HTML sources.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"mocksmith/internal/storage"
	"mocksmith/pkg/models"
)

// Frame geometry defaults match a desktop mockup canvas.
const (
	frameWidth   = 1440
	frameHeight  = 1024
	frameSpacing = 100
)

// FigmaFrame is one screen expressed as a Figma frame node.
type FigmaFrame struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Type       string       `json:"type"` // always FRAME
	X          int          `json:"x"`
	Y          int          `json:"y"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	Background string       `json:"background"`
	Children   []FigmaLayer `json:"children"`
	HTMLSource string       `json:"htmlSource"`
}

// FigmaLayer is a text layer lifted out of the screen's HTML.
type FigmaLayer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"` // always TEXT
	Text     string `json:"characters"`
	FontSize int    `json:"fontSize"`
}

// Manifest describes the bundle contents.
type Manifest struct {
	ExportID    string    `json:"export_id"`
	ProjectID   uint      `json:"project_id"`
	ProjectName string    `json:"project_name"`
	ScreenCount int       `json:"screen_count"`
	Frames      []string  `json:"frames"`
	GeneratedAt time.Time `json:"generated_at"`
	Format      string    `json:"format"`
}

// Result describes a completed export.
type Result struct {
	ExportID    string `json:"export_id"`
	StorageKey  string `json:"storage_key"`
	SizeBytes   int64  `json:"size_bytes"`
	ScreenCount int    `json:"screen_count"`
	DownloadURL string `json:"download_url"`
}

// Exporter builds and stores export bundles.
type Exporter struct {
	store     storage.Provider
	urlExpiry time.Duration
}

// NewExporter creates an exporter over the given storage provider.
func NewExporter(store storage.Provider) *Exporter {
	return &Exporter{store: store, urlExpiry: 24 * time.Hour}
}

// Download streams a stored bundle to w. Used by the local-storage
// download route; S3 presigns straight to the bucket instead.
func (e *Exporter) Download(ctx context.Context, key string, w io.Writer) error {
	return e.store.Download(ctx, key, w)
}

// Export converts the project's screens into a Figma bundle, uploads it,
// and returns a presigned download link.
func (e *Exporter) Export(ctx context.Context, project *models.Project, screens []models.Screen) (*Result, error) {
	if len(screens) == 0 {
		return nil, fmt.Errorf("project has no screens to export")
	}

	exportID := uuid.New().String()
	bundle, frames, err := buildBundle(exportID, project, screens)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("exports/%d/%s.zip", project.OwnerID, exportID)
	if err := e.store.Upload(ctx, key, bytes.NewReader(bundle), int64(len(bundle)), "application/zip"); err != nil {
		return nil, fmt.Errorf("failed to store export bundle: %w", err)
	}

	url, err := e.store.PresignDownload(ctx, key, e.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign export: %w", err)
	}

	return &Result{
		ExportID:    exportID,
		StorageKey:  key,
		SizeBytes:   int64(len(bundle)),
		ScreenCount: len(frames),
		DownloadURL: url,
	}, nil
}

// buildBundle writes the zip: manifest.json, frames/<n>.json, html/<n>.html.
func buildBundle(exportID string, project *models.Project, screens []models.Screen) ([]byte, []FigmaFrame, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest := Manifest{
		ExportID:    exportID,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		ScreenCount: len(screens),
		GeneratedAt: time.Now().UTC(),
		Format:      "figma-frames-v1",
	}

	frames := make([]FigmaFrame, 0, len(screens))
	for i, screen := range screens {
		frame := frameForScreen(screen, i)
		frames = append(frames, frame)

		frameName := fmt.Sprintf("frames/%s.json", slugify(screen.Name))
		manifest.Frames = append(manifest.Frames, frameName)

		if err := writeJSONEntry(zw, frameName, frame); err != nil {
			return nil, nil, err
		}
		if err := writeEntry(zw, fmt.Sprintf("html/%s.html", slugify(screen.Name)), []byte(screen.Content)); err != nil {
			return nil, nil, err
		}
	}

	if err := writeJSONEntry(zw, "manifest.json", manifest); err != nil {
		return nil, nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to finalize bundle: %w", err)
	}
	return buf.Bytes(), frames, nil
}

// frameForScreen maps one screen onto a frame, laying frames out
// left-to-right with fixed spacing.
func frameForScreen(screen models.Screen, index int) FigmaFrame {
	return FigmaFrame{
		ID:         fmt.Sprintf("frame-%d", screen.ID),
		Name:       screen.Name,
		Type:       "FRAME",
		X:          index * (frameWidth + frameSpacing),
		Y:          0,
		Width:      frameWidth,
		Height:     frameHeight,
		Background: "#FFFFFF",
		Children:   textLayers(screen),
		HTMLSource: screen.Content,
	}
}

var (
	headingPattern = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	tagStripper    = regexp.MustCompile(`(?s)<[^>]*>`)
)

// headingSizes approximates default browser heading sizes in px.
var headingSizes = [6]int{32, 24, 19, 16, 13, 11}

// textLayers lifts heading text out of the HTML so imported frames carry
// editable labels rather than one opaque blob.
func textLayers(screen models.Screen) []FigmaLayer {
	matches := headingPattern.FindAllStringSubmatch(screen.Content, 20)
	layers := make([]FigmaLayer, 0, len(matches))
	for i, m := range matches {
		level := int(m[1][0] - '0')
		text := strings.TrimSpace(tagStripper.ReplaceAllString(m[2], ""))
		if text == "" {
			continue
		}
		layers = append(layers, FigmaLayer{
			ID:       fmt.Sprintf("frame-%d-text-%d", screen.ID, i),
			Name:     text,
			Type:     "TEXT",
			Text:     text,
			FontSize: headingSizes[level-1],
		})
	}
	return layers
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "screen"
	}
	return slug
}

func writeJSONEntry(zw *zip.Writer, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return writeEntry(zw, name, data)
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
