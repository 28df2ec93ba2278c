package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/browser"
	"github.com/sells-group/deal-pipeline/internal/fetch"
	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/objectstore"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/source/sites"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/workspace"
	"github.com/sells-group/deal-pipeline/pkg/salesforce"
)

// initStore opens the catalog. Local environments migrate on open; every
// other environment only checks the schema and refuses to start when it is
// behind.
func initStore(ctx context.Context) (*store.SQLStore, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Pipeline.Env == "local" {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	if err := st.SchemaGuard(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "schema guard (run `deals migrate`)")
	}
	return st, nil
}

func fetchOptions() fetch.Options {
	return fetch.Options{
		UserAgent:      cfg.Fetch.UserAgent,
		Timeout:        seconds(cfg.Fetch.TimeoutSecs),
		Retries:        cfg.Fetch.Retries,
		RequestsPerSec: cfg.Fetch.RequestsPerSec,
	}
}

// siteRegistry builds the adapter registry from the per-source config.
func siteRegistry() *source.Registry {
	cfgs := make(map[string]sites.Config, len(sites.Names))
	for _, name := range sites.Names {
		sc := cfg.Source(name)
		cfgs[name] = sites.Config{
			BaseURL:  sc.BaseURL,
			MaxPages: sc.MaxPages,
			Username: sc.Username,
			Password: sc.Password,
			Fetch:    fetchOptions(),
		}
	}
	return sites.NewRegistry(cfgs)
}

// selectAdapters resolves the named sources, or every enabled source when
// none are named.
func selectAdapters(reg *source.Registry, names []string) ([]source.Adapter, error) {
	if len(names) > 0 {
		return reg.Select(names)
	}
	var out []source.Adapter
	for _, a := range reg.All() {
		if !cfg.Source(a.Name()).Enabled {
			zap.L().Info("source disabled, skipping", zap.String("source", a.Name()))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// sessionFactory renders detail pages in Chrome. Dry runs never upload, so
// they fetch over plain HTTP and skip the browser.
func sessionFactory(dryRun bool) source.SessionFactory {
	if dryRun {
		return source.HTTPSessionFactory(fetchOptions())
	}
	ua := cfg.Browser.UserAgent
	if ua == "" {
		ua = cfg.Fetch.UserAgent
	}
	return browser.Factory{Opts: browser.Options{
		Headless:    cfg.Browser.Headless,
		Timeout:     seconds(cfg.Browser.TimeoutSecs),
		UnblockWait: seconds(cfg.Browser.UnblockWaitSecs),
		ExecPath:    cfg.Browser.ExecPath,
		UserAgent:   ua,
	}}
}

// objectBackend is both the artifact store and the report uploader.
type objectBackend interface {
	objectstore.Store
	objectstore.FileUploader
}

// initObjects opens the configured artifact backend. The returned closer is
// never nil.
func initObjects(ctx context.Context) (objectBackend, func(), error) {
	switch cfg.Storage.Backend {
	case "drive":
		d, err := objectstore.NewDrive(ctx, cfg.Google.CredentialsFile)
		if err != nil {
			return nil, func() {}, err
		}
		return d, func() {}, nil
	case "gcs":
		g, err := objectstore.NewGCS(ctx, cfg.Storage.Bucket, cfg.Google.CredentialsFile)
		if err != nil {
			return nil, func() {}, err
		}
		return g, func() { _ = g.Close() }, nil
	default:
		return nil, func() {}, eris.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

func initSheet(ctx context.Context) (*workspace.GoogleSheet, error) {
	return workspace.NewGoogleSheet(ctx, workspace.SheetsOptions{
		SpreadsheetID:   cfg.SpreadsheetID(),
		Tab:             cfg.Workspace.SheetName,
		CredentialsFile: cfg.Google.CredentialsFile,
		WriteRPS:        cfg.Workspace.WriteRPS,
		MaxAttempts:     cfg.Workspace.MaxAttempts,
	})
}

func initSalesforce() (salesforce.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}
	return salesforce.Connect(salesforce.Creds{
		LoginURL:      cfg.Salesforce.LoginURL,
		Username:      cfg.Salesforce.Username,
		ClientID:      cfg.Salesforce.ClientID,
		PrivateKeyPEM: string(pemData),
	})
}

// recordRun wraps a job in a runs row. Failing to record is logged, never
// fatal.
func recordRun(ctx context.Context, st store.Store, command string, fn func() (any, error)) error {
	run, err := st.StartRun(ctx, command, "")
	if err != nil {
		zap.L().Warn("start run", zap.String("command", command), zap.Error(err))
	}
	summary, jobErr := fn()
	if run != nil {
		status := model.RunComplete
		if jobErr != nil {
			status = model.RunFailed
		}
		if err := st.FinishRun(context.WithoutCancel(ctx), run.ID, status, summary); err != nil {
			zap.L().Warn("finish run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return jobErr
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
