package eden

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Artifact is a fetched creation file plus its content identifier.
type Artifact struct {
	Name        string // display file name, e.g. "3f2a...c1.png"
	SHA         string // key for feedback stats
	ContentType string
	URL         string // where it was fetched from
	Data        []byte
}

// bareRefRe matches a storage reference that is itself a content hash.
var bareRefRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// artifactExt picks the object suffix for a finished creation.
func artifactExt(multiFrame, preferAnimated bool) string {
	switch {
	case !multiFrame:
		return ""
	case preferAnimated:
		return ".gif"
	default:
		return ".mp4"
	}
}

// ArtifactURL returns where ref is stored. Absolute URLs are used as is.
func (c *Client) ArtifactURL(ref string, multiFrame, preferAnimated bool) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.storageURL + "/" + strings.TrimLeft(ref, "/") + artifactExt(multiFrame, preferAnimated)
}

// FetchArtifact downloads the creation stored under ref. Multi-frame
// results are fetched as .gif when preferAnimated is set and .mp4 otherwise.
func (c *Client) FetchArtifact(ctx context.Context, ref string, multiFrame, preferAnimated bool) (*Artifact, error) {
	if ref == "" {
		return nil, &ProtocolError{Reason: "artifact reference is empty"}
	}
	target := c.ArtifactURL(ref, multiFrame, preferAnimated)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Op: "fetch artifact", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch artifact", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{Op: "fetch artifact", StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "fetch artifact", StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	name, sha := artifactIdentity(ref, data, multiFrame, preferAnimated)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
			contentType = byExt
		}
	}

	c.logger.Debug("artifact fetched",
		zap.String("name", name),
		zap.String("sha", sha),
		zap.Int("bytes", len(data)))
	return &Artifact{
		Name:        name,
		SHA:         sha,
		ContentType: contentType,
		URL:         target,
		Data:        data,
	}, nil
}

// artifactIdentity derives the display name and content id. A bare storage
// reference is the gateway's own content hash; anything else (a URL or a
// path) is hashed from the bytes.
func artifactIdentity(ref string, data []byte, multiFrame, preferAnimated bool) (name, sha string) {
	ext := artifactExt(multiFrame, preferAnimated)
	if ext == "" {
		ext = ".png"
	}
	base := path.Base(ref)
	if bareRefRe.MatchString(ref) {
		return ref + ext, ref
	}
	sum := sha256.Sum256(data)
	sha = hex.EncodeToString(sum[:])
	if path.Ext(base) == "" {
		base += ext
	}
	if base == "." || base == "/" {
		base = sha + ext
	}
	return base, sha
}
