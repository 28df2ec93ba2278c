package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/deal-pipeline/internal/resilience"
)

// GCS stores artifacts in a Cloud Storage bucket. Folders are object
// prefixes marked by an empty "<prefix>/" placeholder object.
type GCS struct {
	client *storage.Client
	bucket string
	policy resilience.Policy
}

// NewGCS creates a GCS store for bucket.
func NewGCS(ctx context.Context, bucket, credentialsFile string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, eris.New("objectstore: gcs bucket is required")
	}
	var base []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, eris.Wrapf(err, "objectstore: credentials file %s", credentialsFile)
		}
		base = append(base, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, append(base, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "objectstore: create gcs client")
	}
	return &GCS{client: client, bucket: bucket, policy: resilience.DefaultPolicy().Logged("gcs", "write")}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// GetOrCreateFolder writes the placeholder for parentID/name unless present.
func (g *GCS) GetOrCreateFolder(ctx context.Context, parentID, name string) (Folder, error) {
	prefix := gcsPrefix(parentID, name)
	obj := g.client.Bucket(g.bucket).Object(prefix + "/").If(storage.Conditions{DoesNotExist: true})
	err := resilience.Do(ctx, g.policy, func(ctx context.Context) error {
		w := obj.NewWriter(ctx)
		w.ContentType = "application/x-directory"
		if err := w.Close(); err != nil {
			if isPreconditionFailed(err) {
				return nil
			}
			return resilience.FromGoogle(err)
		}
		return nil
	})
	if err != nil {
		return Folder{}, eris.Wrapf(err, "objectstore: create prefix %s", prefix)
	}
	return Folder{ID: prefix, URL: g.consoleURL(prefix)}, nil
}

// UploadPDF writes the file to folderID/filename.
func (g *GCS) UploadPDF(ctx context.Context, localPath, filename, folderID string) (string, error) {
	return g.UploadFile(ctx, localPath, filename, folderID, "application/pdf")
}

// UploadFile writes any local file under folderID and returns its URL.
func (g *GCS) UploadFile(ctx context.Context, localPath, filename, folderID, mimeType string) (string, error) {
	name := path.Join(folderID, filename)
	err := resilience.Do(ctx, g.policy, func(ctx context.Context) error {
		fh, err := os.Open(localPath)
		if err != nil {
			return eris.Wrapf(err, "open %s", localPath)
		}
		defer fh.Close() //nolint:errcheck

		w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
		w.ContentType = mimeType
		if _, err := io.Copy(w, fh); err != nil {
			_ = w.Close()
			return resilience.FromGoogle(err)
		}
		return resilience.FromGoogle(w.Close())
	})
	if err != nil {
		return "", eris.Wrapf(err, "objectstore: upload gs://%s/%s", g.bucket, name)
	}
	zap.L().Debug("gcs object written", zap.String("bucket", g.bucket), zap.String("object", name))
	return ObjectURL(g.bucket, name), nil
}

func (g *GCS) consoleURL(prefix string) string {
	return "https://console.cloud.google.com/storage/browser/" + g.bucket + "/" + prefix
}

// ObjectURL is the public URL of an object; FileIDFromURL returns name.
func ObjectURL(bucket, name string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + name
}

func gcsPrefix(parentID, name string) string {
	return strings.Trim(path.Join(strings.Trim(parentID, "/"), strings.ReplaceAll(name, "/", "-")), "/")
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
