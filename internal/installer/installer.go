// Package installer downloads the model release archive and installs its
// ONNX tree into the model directory.
package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	installcontroller "github.com/kennethnrk/mixtex-ocr/internal/controller/installs"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
	"github.com/kennethnrk/mixtex-ocr/internal/store"
)

// ErrInProgress is returned when another install is running.
var ErrInProgress = errors.New("model install already in progress")

type Config struct {
	APIURL      string
	Asset       string
	FallbackURL string
	ModelDir    string
	DownloadDir string
}

// Reloader is the part of model.Coordinator the installer drives.
type Reloader interface {
	Reload(ctx context.Context) (model.Status, error)
}

type Result struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Source  string              `json:"source,omitempty"`
	Install *store.ModelInstall `json:"install,omitempty"`
	Model   *model.Status       `json:"model,omitempty"`
}

type Installer struct {
	cfg    Config
	client *http.Client
	store  *store.Store
	models Reloader
	logger *zap.Logger

	mu sync.Mutex
}

// New returns an installer. A nil client uses one with a generous timeout
// for the archive download; st may be nil to skip recording installs.
func New(cfg Config, client *http.Client, st *store.Store, models Reloader, logger *zap.Logger) *Installer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{cfg: cfg, client: client, store: st, models: models, logger: logger}
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// ResolveURL asks the releases API for the archive asset. Any failure, or a
// release without the asset, yields the fallback URL.
func (i *Installer) ResolveURL(ctx context.Context) string {
	i.logger.Info("Fetching latest release information", zap.String("url", i.cfg.APIURL))

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, i.cfg.APIURL, nil)
	if err != nil {
		i.logger.Warn("Invalid release API URL, using fallback", zap.Error(err))
		return i.cfg.FallbackURL
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := i.client.Do(req)
	if err != nil {
		i.logger.Warn("Error fetching release info, using fallback", zap.Error(err))
		return i.cfg.FallbackURL
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		i.logger.Warn("Release API returned an error, using fallback", zap.Int("status", resp.StatusCode))
		return i.cfg.FallbackURL
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		i.logger.Warn("Error decoding release info, using fallback", zap.Error(err))
		return i.cfg.FallbackURL
	}
	for _, asset := range release.Assets {
		if strings.EqualFold(asset.Name, i.cfg.Asset) {
			i.logger.Info("Found latest model",
				zap.String("tag", release.TagName),
				zap.String("url", asset.BrowserDownloadURL))
			return asset.BrowserDownloadURL
		}
	}
	i.logger.Warn("Asset not found in latest release, using fallback", zap.String("asset", i.cfg.Asset))
	return i.cfg.FallbackURL
}

// Install downloads the archive, replaces the model directory with its
// ONNX tree, records the install and reloads the model.
func (i *Installer) Install(ctx context.Context) (Result, error) {
	if !i.mu.TryLock() {
		return Result{Status: "error", Message: ErrInProgress.Error()}, ErrInProgress
	}
	defer i.mu.Unlock()

	res, err := i.install(ctx)
	if err != nil {
		i.logger.Error("Model download and setup failed", zap.Error(err))
		res.Status = "error"
		res.Message = fmt.Sprintf("Failed to download and setup model: %v", err)
		return res, err
	}
	return res, nil
}

func (i *Installer) install(ctx context.Context) (Result, error) {
	source := i.ResolveURL(ctx)
	res := Result{Source: source}

	if err := os.MkdirAll(i.cfg.DownloadDir, 0o755); err != nil {
		return res, fmt.Errorf("create download dir: %w", err)
	}
	archive, err := os.CreateTemp(i.cfg.DownloadDir, "mixtex-*.zip")
	if err != nil {
		return res, fmt.Errorf("create archive file: %w", err)
	}
	defer os.Remove(archive.Name())

	size, err := i.download(ctx, source, archive)
	closeErr := archive.Close()
	if err != nil {
		return res, err
	}
	if closeErr != nil {
		return res, fmt.Errorf("write archive: %w", closeErr)
	}

	i.logger.Info("Extracting model archive", zap.Int64("bytes", size))
	staging, err := os.MkdirTemp(i.cfg.DownloadDir, "staging-")
	if err != nil {
		return res, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	files, err := ExtractSubtree(archive.Name(), constants.ReleaseArchiveSubtree, staging)
	if err != nil {
		return res, err
	}
	if err := model.ValidateDir(staging); err != nil {
		return res, fmt.Errorf("archive does not contain a usable model: %w", err)
	}
	if err := replaceDir(staging, i.cfg.ModelDir); err != nil {
		return res, err
	}
	i.logger.Info("Model files installed", zap.String("dir", i.cfg.ModelDir), zap.Int("files", len(files)))

	fingerprint, err := model.Fingerprint(i.cfg.ModelDir)
	if err != nil {
		return res, err
	}
	inst := store.ModelInstall{
		Source:      source,
		Asset:       i.cfg.Asset,
		Dir:         i.cfg.ModelDir,
		Files:       files,
		Bytes:       size,
		Fingerprint: fingerprint,
	}
	if i.store != nil {
		recorded, err := installcontroller.RecordInstall(i.store, inst)
		if err != nil {
			return res, fmt.Errorf("record install: %w", err)
		}
		inst = recorded
	}
	res.Install = &inst

	if i.models != nil {
		status, err := i.models.Reload(ctx)
		res.Model = &status
		if err != nil {
			return res, fmt.Errorf("reload installed model: %w", err)
		}
	}

	res.Status = "success"
	res.Message = "Model downloaded and set up successfully"
	return res, nil
}

func (i *Installer) download(ctx context.Context, url string, w io.Writer) (int64, error) {
	i.logger.Info("Downloading model", zap.String("url", url))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download model: unexpected status %s", resp.Status)
	}

	start := time.Now()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download model: %w", err)
	}
	i.logger.Info("Download finished",
		zap.Int64("bytes", n),
		zap.Int64("expected", resp.ContentLength),
		zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

// replaceDir moves src into place at dst, keeping the previous dst until
// the move succeeds.
func replaceDir(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create model parent dir: %w", err)
	}
	backup := dst + ".previous"
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	hadOld := true
	if err := os.Rename(dst, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("move old model aside: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(src, dst); err != nil {
		if hadOld {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("move new model into place: %w", err)
	}
	if hadOld {
		_ = os.RemoveAll(backup)
	}
	return nil
}
