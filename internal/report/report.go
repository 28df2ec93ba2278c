package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/objectstore"
	"github.com/sells-group/deal-pipeline/internal/store"
)

// ErrNoSnapshot is returned when there is no snapshot to report on.
var ErrNoSnapshot = eris.New("report: no snapshot")

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Result summarises a report run.
type Result struct {
	Key      string        `json:"key"`
	Path     string        `json:"path"`
	URL      string        `json:"url,omitempty"`
	Total    int           `json:"total"`
	Delivery Delivery      `json:"delivery"`
	Duration time.Duration `json:"duration"`
}

// String renders a one-line summary.
func (r Result) String() string {
	return fmt.Sprintf("key=%s total=%d file=%s sent=%d failed=%d", r.Key, r.Total, r.Path, r.Delivery.Sent, r.Delivery.Failed)
}

// Reporter builds the weekly funnel report.
type Reporter struct {
	store    store.Store
	outDir   string
	uploader objectstore.FileUploader
	folderID string
	sinks    []Sink
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithUploader uploads the workbook to folderID.
func WithUploader(u objectstore.FileUploader, folderID string) Option {
	return func(r *Reporter) {
		r.uploader = u
		r.folderID = folderID
	}
}

// WithSinks sets the delivery sinks.
func WithSinks(sinks ...Sink) Option {
	return func(r *Reporter) { r.sinks = append(r.sinks, sinks...) }
}

// NewReporter creates a Reporter writing workbooks to outDir.
func NewReporter(st store.Store, outDir string, opts ...Option) *Reporter {
	r := &Reporter{store: st, outDir: outDir}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Funnel loads the snapshot for key, or the latest one when key is empty, and
// compares it with the snapshot before it.
func (r *Reporter) Funnel(ctx context.Context, key string) (*Funnel, error) {
	keys, err := r.store.ListSnapshotKeys(ctx)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, k := range keys {
		if key == "" || k == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		if key == "" {
			return nil, ErrNoSnapshot
		}
		return nil, eris.Wrapf(ErrNoSnapshot, "key %s", key)
	}

	current, err := r.store.ListSnapshot(ctx, keys[idx])
	if err != nil {
		return nil, err
	}
	var prevKey string
	var previous []model.SnapshotRow
	if idx+1 < len(keys) {
		prevKey = keys[idx+1]
		if previous, err = r.store.ListSnapshot(ctx, prevKey); err != nil {
			return nil, err
		}
	}
	return BuildFunnel(keys[idx], current, prevKey, previous), nil
}

// Run builds the report for key, writes the workbook, uploads it when an
// uploader is configured and broadcasts to every sink. Upload and delivery
// failures are logged; only catalog and workbook errors are returned.
func (r *Reporter) Run(ctx context.Context, key string) (*Result, error) {
	start := time.Now()
	f, err := r.Funnel(ctx, key)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "report"), zap.String("key", f.Key))

	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "report: create output dir")
	}
	name := "pipeline-" + f.Key + ".xlsx"
	path := filepath.Join(r.outDir, name)
	if err := f.WriteXLSX(path); err != nil {
		return nil, err
	}
	res := &Result{Key: f.Key, Path: path, Total: f.Total}

	if r.uploader != nil {
		url, err := r.uploader.UploadFile(ctx, path, name, r.folderID, xlsxMime)
		if err != nil {
			log.Error("report: upload failed", zap.Error(err))
		} else {
			res.URL = url
		}
	}

	msg := Message{Key: f.Key, Title: f.Title(), Text: f.Text(), Total: f.Total}
	file := &File{
		Key:     f.Key,
		Path:    path,
		Name:    name,
		Title:   f.Title() + " workbook",
		Caption: fmt.Sprintf("%d deals across %d industries", f.Total, len(f.ByIndustry)),
		URL:     res.URL,
	}
	res.Delivery = Broadcast(ctx, r.sinks, msg, file)
	res.Duration = time.Since(start)

	log.Info("report: complete",
		zap.Int("total", res.Total),
		zap.String("path", res.Path),
		zap.Int("sent", res.Delivery.Sent),
		zap.Int("failed", res.Delivery.Failed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
