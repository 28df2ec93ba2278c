// Package objectstore provisions per-deal folders and stores PDF artifacts.
package objectstore

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Folder is a provisioned per-deal folder.
type Folder struct {
	ID  string
	URL string
}

// Store is the folder service consumed by the enricher.
type Store interface {
	// GetOrCreateFolder returns the child folder called name under parentID,
	// creating it when absent.
	GetOrCreateFolder(ctx context.Context, parentID, name string) (Folder, error)
	// UploadPDF uploads localPath as filename into folderID and returns a URL
	// from which FileIDFromURL recovers the file id.
	UploadPDF(ctx context.Context, localPath, filename, folderID string) (string, error)
}

// FileUploader uploads arbitrary files such as report attachments.
type FileUploader interface {
	UploadFile(ctx context.Context, localPath, filename, folderID, mimeType string) (string, error)
}

// ErrNoFileID is returned when a URL encodes no recognisable file id.
var ErrNoFileID = eris.New("objectstore: url carries no file id")

const maxFolderName = 100

var (
	driveFileRe  = regexp.MustCompile(`/(?:file/d|folders|document/d|spreadsheets/d)/([A-Za-z0-9_-]{10,})`)
	unsafeNameRe = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)
	collapseRe   = regexp.MustCompile(`\s+`)
)

// FileIDFromURL parses the file id out of a Drive view/download URL or a
// Cloud Storage object URL.
func FileIDFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", eris.Wrapf(ErrNoFileID, "parse %q", raw)
	}
	if m := driveFileRe.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	if id := u.Query().Get("id"); id != "" {
		return id, nil
	}
	if u.Host == "storage.googleapis.com" || u.Host == "storage.cloud.google.com" {
		// /<bucket>/<object>
		if _, obj, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/"); ok && obj != "" {
			return obj, nil
		}
	}
	return "", eris.Wrapf(ErrNoFileID, "%s", raw)
}

// FolderName builds the per-deal folder name "<listing id> - <title>",
// stripped of path characters and capped at 100 runes.
func FolderName(listingID, title string) string {
	name := strings.TrimSpace(listingID)
	if t := strings.TrimSpace(title); t != "" {
		name += " - " + t
	}
	name = unsafeNameRe.ReplaceAllString(name, "-")
	name = strings.TrimSpace(collapseRe.ReplaceAllString(name, " "))
	if utf8.RuneCountInString(name) > maxFolderName {
		name = strings.TrimSpace(string([]rune(name)[:maxFolderName]))
	}
	return name
}
