// Package resolve retrieves candidate uploads from the catalog collaborator
// and applies the disambiguation policy that narrows them down to one.
package resolve

import (
	"context"
	"runtime"
	"strings"

	"cavern/internal/core"
	"cavern/internal/errkind"
)

// Catalog is the remote catalog collaborator, consumed read-only. A download
// key scopes the listing to non-public uploads; without one the public
// listing applies.
type Catalog interface {
	ListUploads(ctx context.Context, creds core.Credentials, key *core.DownloadKey, gameID int64) ([]core.Upload, error)
	FindBuild(ctx context.Context, creds core.Credentials, uploadID, buildID int64) (core.Build, error)
}

// Host describes the platform the heuristic runs against. Injectable so
// tests can pin any combination.
type Host struct {
	OS   string
	Arch string
}

// CurrentHost reports the running platform.
func CurrentHost() Host {
	return Host{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (h Host) windows() bool { return h.OS == "windows" }

func (h Host) sixtyFourBit() bool {
	return h.Arch == "amd64" || h.Arch == "arm64"
}

// Resolver queries the catalog and narrows candidates for the host.
type Resolver struct {
	catalog Catalog
	host    Host
}

// New creates a resolver for the running platform.
func New(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog, host: CurrentHost()}
}

// NewForHost creates a resolver with a pinned host, for tests.
func NewForHost(catalog Catalog, host Host) *Resolver {
	return &Resolver{catalog: catalog, host: host}
}

// Resolve lists the uploads visible for a game, scoped by the download key
// when present, and applies the platform heuristic. The result is never nil;
// an absent listing is an empty sequence. Catalog failures come back
// classified as network or api errors.
func (r *Resolver) Resolve(ctx context.Context, creds core.Credentials, key *core.DownloadKey, gameID int64) ([]core.Upload, error) {
	uploads, err := r.catalog.ListUploads(ctx, creds, key, gameID)
	if err != nil {
		if errkind.KindOf(err) != 0 {
			return nil, err
		}
		return nil, errkind.Wrap(errkind.Network, err, "list uploads")
	}
	if uploads == nil {
		uploads = []core.Upload{}
	}
	return NarrowForHost(r.host, uploads), nil
}

// PinBuild resolves the source for a specific build id, used by revert and
// heal which must not fetch the latest.
func (r *Resolver) PinBuild(ctx context.Context, creds core.Credentials, uploadID, buildID int64) (core.Build, error) {
	build, err := r.catalog.FindBuild(ctx, creds, uploadID, buildID)
	if err != nil {
		if errkind.KindOf(err) != 0 {
			return core.Build{}, err
		}
		return core.Build{}, errkind.Wrap(errkind.Network, err, "find build")
	}
	return build, nil
}

// mentions64Bit reports whether a name carries a 64-bit width marker. "64"
// covers x64, win64, amd64 and x86_64 spellings.
func mentions64Bit(name string) bool {
	return strings.Contains(strings.ToLower(name), "64")
}

// mentions32Bit reports whether a name carries a 32-bit width marker: "32",
// "386", or "x86" when it is not the head of an "x86_64"-style token.
func mentions32Bit(name string) bool {
	s := strings.ToLower(name)
	if strings.Contains(s, "32") || strings.Contains(s, "386") {
		return true
	}
	for {
		i := strings.Index(s, "x86")
		if i < 0 {
			return false
		}
		rest := s[i+3:]
		if !strings.HasPrefix(rest, "64") && !strings.HasPrefix(rest, "_64") && !strings.HasPrefix(rest, "-64") {
			return true
		}
		s = rest
	}
}

func nameMentions(u core.Upload, pred func(string) bool) bool {
	return pred(u.Filename) || pred(u.DisplayName)
}

// NarrowForHost applies the 32/64-bit tie-break on Windows-class hosts: on a
// 64-bit host, when at least one candidate carries a 64-bit marker, every
// candidate carrying a 32-bit marker is dropped; the mirror rule applies on
// 32-bit hosts. It is a filename heuristic, not an authoritative platform
// tag, so ties survive when nothing matches. A name carrying markers of both
// widths is kept by whichever rule is checked for the host (first rule
// checked wins).
func NarrowForHost(host Host, uploads []core.Upload) []core.Upload {
	if !host.windows() || len(uploads) == 0 {
		return uploads
	}

	keep, drop := mentions32Bit, mentions64Bit
	if host.sixtyFourBit() {
		keep, drop = mentions64Bit, mentions32Bit
	}

	anyKeep := false
	for _, u := range uploads {
		if nameMentions(u, keep) {
			anyKeep = true
			break
		}
	}
	if !anyKeep {
		return uploads
	}

	narrowed := make([]core.Upload, 0, len(uploads))
	for _, u := range uploads {
		if nameMentions(u, keep) || !nameMentions(u, drop) {
			narrowed = append(narrowed, u)
		}
	}
	return narrowed
}
