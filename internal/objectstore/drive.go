package objectstore

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/deal-pipeline/internal/resilience"
)

const folderMime = "application/vnd.google-apps.folder"

// Drive stores folders and files in Google Drive, including shared drives.
type Drive struct {
	svc     *drive.Service
	policy  resilience.Policy
	limiter *rate.Limiter

	mu      sync.Mutex
	folders map[string]Folder
}

// NewDrive creates a Drive store. credentialsFile may be empty to use
// application default credentials; opts are appended after it.
func NewDrive(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*Drive, error) {
	base := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if credentialsFile != "" {
		base = append(base, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := drive.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "objectstore: create drive service")
	}
	return &Drive{
		svc:     svc,
		policy:  resilience.QuotaPolicy(5).Logged("drive", "write"),
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		folders: make(map[string]Folder),
	}, nil
}

// WithPolicy overrides the retry policy.
func (d *Drive) WithPolicy(p resilience.Policy) *Drive {
	d.policy = p
	return d
}

func (d *Drive) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.Do(ctx, d.policy, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		return resilience.FromGoogle(fn(ctx))
	})
}

// GetOrCreateFolder finds a non-trashed folder by name under parentID or
// creates it.
func (d *Drive) GetOrCreateFolder(ctx context.Context, parentID, name string) (Folder, error) {
	key := parentID + "/" + name
	d.mu.Lock()
	f, ok := d.folders[key]
	d.mu.Unlock()
	if ok {
		return f, nil
	}

	q := "name = '" + escapeQuery(name) + "' and '" + escapeQuery(parentID) + "' in parents" +
		" and mimeType = '" + folderMime + "' and trashed = false"
	var found *drive.File
	err := d.call(ctx, func(ctx context.Context) error {
		list, err := d.svc.Files.List().
			Q(q).
			Fields("files(id, name, webViewLink)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			PageSize(1).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		if len(list.Files) > 0 {
			found = list.Files[0]
		}
		return nil
	})
	if err != nil {
		return Folder{}, eris.Wrapf(err, "objectstore: find folder %q", name)
	}

	if found == nil {
		err = d.call(ctx, func(ctx context.Context) error {
			created, err := d.svc.Files.Create(&drive.File{
				Name:     name,
				MimeType: folderMime,
				Parents:  []string{parentID},
			}).
				Fields("id, webViewLink").
				SupportsAllDrives(true).
				Context(ctx).
				Do()
			found = created
			return err
		})
		if err != nil {
			return Folder{}, eris.Wrapf(err, "objectstore: create folder %q", name)
		}
		zap.L().Info("drive folder created", zap.String("name", name), zap.String("folder_id", found.Id))
	}

	f = Folder{ID: found.Id, URL: found.WebViewLink}
	if f.URL == "" {
		f.URL = "https://drive.google.com/drive/folders/" + f.ID
	}
	d.mu.Lock()
	d.folders[key] = f
	d.mu.Unlock()
	return f, nil
}

// UploadPDF uploads a PDF into folderID.
func (d *Drive) UploadPDF(ctx context.Context, localPath, filename, folderID string) (string, error) {
	return d.UploadFile(ctx, localPath, filename, folderID, "application/pdf")
}

// UploadFile uploads any local file into folderID and returns its view URL.
func (d *Drive) UploadFile(ctx context.Context, localPath, filename, folderID, mimeType string) (string, error) {
	var created *drive.File
	err := d.call(ctx, func(ctx context.Context) error {
		fh, err := os.Open(localPath)
		if err != nil {
			return eris.Wrapf(err, "open %s", localPath)
		}
		defer fh.Close() //nolint:errcheck
		created, err = d.svc.Files.Create(&drive.File{
			Name:     filename,
			MimeType: mimeType,
			Parents:  []string{folderID},
		}).
			Media(fh, googleapi.ContentType(mimeType)).
			Fields("id, webViewLink").
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", eris.Wrapf(err, "objectstore: upload %s", filename)
	}
	if created.WebViewLink != "" {
		return created.WebViewLink, nil
	}
	return "https://drive.google.com/file/d/" + created.Id + "/view", nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
