package storyboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest describes an exported storyboard directory.
type Manifest struct {
	Title      string          `yaml:"title,omitempty"`
	ExportedAt time.Time       `yaml:"exported_at"`
	Panels     []ManifestPanel `yaml:"panels"`
}

type ManifestPanel struct {
	Index       int    `yaml:"index"`
	SceneID     string `yaml:"scene_id"`
	Description string `yaml:"description"`
	Status      Status `yaml:"status"`
	File        string `yaml:"file,omitempty"`
	SourceURL   string `yaml:"source_url,omitempty"`
	Error       string `yaml:"error,omitempty"`
}

// Export downloads every panel that has an image into dir as panel-N.png and
// writes storyboard.yaml next to them. Scenes without an image are listed but not downloaded.
func (g *Gateway) Export(ctx context.Context, title string, scenes []Scene, dir string) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	m := &Manifest{Title: title, ExportedAt: g.now().UTC()}
	for i, sc := range scenes {
		p := ManifestPanel{
			Index:       i + 1,
			SceneID:     sc.ID,
			Description: sc.Description,
			Status:      sc.Status,
			SourceURL:   sc.ImageURL,
			Error:       sc.Error,
		}
		if sc.HasImage() {
			data, _, err := g.fetch(ctx, sc.ImageURL)
			if err != nil {
				return nil, fmt.Errorf("download panel %d: %w", i+1, err)
			}
			p.File = fmt.Sprintf("panel-%d.png", i+1)
			if err := os.WriteFile(filepath.Join(dir, p.File), data, 0o644); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", p.File, err)
			}
		}
		m.Panels = append(m.Panels, p)
	}

	f, err := os.Create(filepath.Join(dir, "storyboard.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()
	if err := WriteManifest(f, m); err != nil {
		return nil, err
	}
	return m, nil
}

func WriteManifest(w io.Writer, m *Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return enc.Close()
}
