package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cavern/internal/core"
	"cavern/internal/errkind"
	"cavern/internal/resolve"
)

// manifestCatalog serves the catalog collaborator from a local JSON
// manifest, which is enough to drive the orchestrator end to end without a
// remote service.
type manifestCatalog struct {
	games map[int64]manifestGame
}

type manifestGame struct {
	ID      int64            `json:"id"`
	Title   string           `json:"title"`
	Uploads []manifestUpload `json:"uploads"`
	Builds  []manifestBuild  `json:"builds"`
	KeyOnly []manifestUpload `json:"key_only_uploads"`
}

type manifestUpload struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	DisplayName string `json:"display_name"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

type manifestBuild struct {
	ID       int64  `json:"id"`
	UploadID int64  `json:"upload_id"`
	Version  string `json:"version"`
	URL      string `json:"url"`
}

func loadManifest(path string) (*manifestCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var doc struct {
		Games []manifestGame `json:"games"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	cat := &manifestCatalog{games: make(map[int64]manifestGame)}
	for _, g := range doc.Games {
		cat.games[g.ID] = g
	}
	return cat, nil
}

var _ resolve.Catalog = (*manifestCatalog)(nil)

func (c *manifestCatalog) ListUploads(_ context.Context, _ core.Credentials, key *core.DownloadKey, gameID int64) ([]core.Upload, error) {
	g, ok := c.games[gameID]
	if !ok {
		return nil, errkind.Newf(errkind.Api, "no such game: %d", gameID)
	}
	src := g.Uploads
	if key != nil {
		src = append(append([]manifestUpload{}, g.Uploads...), g.KeyOnly...)
	}
	uploads := make([]core.Upload, 0, len(src))
	for _, u := range src {
		uploads = append(uploads, core.Upload{
			ID:          u.ID,
			Filename:    u.Filename,
			DisplayName: u.DisplayName,
			Size:        u.Size,
			SourceURL:   u.URL,
		})
	}
	return uploads, nil
}

func (c *manifestCatalog) FindBuild(_ context.Context, _ core.Credentials, uploadID, buildID int64) (core.Build, error) {
	for _, g := range c.games {
		for _, b := range g.Builds {
			if b.UploadID == uploadID && b.ID == buildID {
				return core.Build{
					ID:        b.ID,
					UploadID:  b.UploadID,
					Version:   b.Version,
					SourceURL: b.URL,
				}, nil
			}
		}
	}
	return core.Build{}, errkind.Newf(errkind.Api, "no such build: %d for upload %d", buildID, uploadID)
}
