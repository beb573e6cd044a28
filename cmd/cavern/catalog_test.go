package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cavern/internal/core"
	"cavern/internal/errkind"
)

const sampleManifest = `{
  "games": [
    {
      "id": 1,
      "title": "Sample Game",
      "uploads": [
        {"id": 11, "filename": "game.zip", "size": 64, "url": "http://host/game.zip"}
      ],
      "key_only_uploads": [
        {"id": 12, "filename": "game-deluxe.zip", "size": 128, "url": "http://host/deluxe.zip"}
      ],
      "builds": [
        {"id": 7, "upload_id": 11, "version": "1.0.7", "url": "http://host/build-7.zip"}
      ]
    }
  ]
}`

func loadSample(t *testing.T) *manifestCatalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := loadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	return cat
}

func TestListUploadsScopesKeyOnlyUploadsToKeyHolders(t *testing.T) {
	cat := loadSample(t)
	ctx := context.Background()

	public, err := cat.ListUploads(ctx, core.Credentials{}, nil, 1)
	if err != nil {
		t.Fatalf("list public: %v", err)
	}
	if len(public) != 1 || public[0].ID != 11 {
		t.Fatalf("public uploads = %v, want only the open one", public)
	}

	keyed, err := cat.ListUploads(ctx, core.Credentials{}, &core.DownloadKey{ID: 99, GameID: 1}, 1)
	if err != nil {
		t.Fatalf("list keyed: %v", err)
	}
	if len(keyed) != 2 {
		t.Fatalf("keyed uploads = %v, want open plus key-only", keyed)
	}
}

func TestListUploadsForUnknownGameIsAnApiError(t *testing.T) {
	cat := loadSample(t)
	_, err := cat.ListUploads(context.Background(), core.Credentials{}, nil, 404)
	if !errkind.Is(err, errkind.Api) {
		t.Fatalf("err = %v, want api kind", err)
	}
}

func TestFindBuildPinsExactBuild(t *testing.T) {
	cat := loadSample(t)

	build, err := cat.FindBuild(context.Background(), core.Credentials{}, 11, 7)
	if err != nil {
		t.Fatalf("find build: %v", err)
	}
	if build.Version != "1.0.7" || build.SourceURL != "http://host/build-7.zip" {
		t.Fatalf("build = %+v", build)
	}

	if _, err := cat.FindBuild(context.Background(), core.Credentials{}, 11, 8); !errkind.Is(err, errkind.Api) {
		t.Fatalf("unknown build err = %v, want api kind", err)
	}
}

func TestLoadManifestRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadManifest(path); err == nil {
		t.Fatal("malformed manifest did not fail")
	}
}
