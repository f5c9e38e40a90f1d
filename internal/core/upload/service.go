package upload

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	supabase "github.com/antoineross/supabase-go"
	storage_go "github.com/supabase-community/storage-go"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/logger"
)

// Service pushes assembled document files to a Supabase storage bucket
// after a job completes. Entirely optional: New returns nil when no
// credentials are configured, and upload failures never fail a job.
type Service struct {
	log    *logger.Logger
	cfg    config.Config
	client *supabase.Client
}

func New(cfg config.Config) (*Service, error) {
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" || cfg.SupabaseBucket == "" {
		return nil, nil
	}
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Supabase client: %w", err)
	}
	return &Service{log: logger.New("UploadService"), cfg: cfg, client: client}, nil
}

// UploadDocument stores one document file under scans/<jobID>/ and
// returns its public URL.
func (s *Service) UploadDocument(jobID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	bucketPath := filepath.ToSlash(filepath.Join("scans", jobID, filepath.Base(path)))
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "image/tiff"
	}

	if _, err := s.client.Storage.UploadFile(s.cfg.SupabaseBucket, bucketPath, f, storage_go.FileOptions{ContentType: &mimeType}); err != nil {
		return "", fmt.Errorf("upload %s: %w", bucketPath, err)
	}

	url := strings.TrimRight(s.cfg.SupabaseURL, "/") + "/storage/v1/object/public/" + s.cfg.SupabaseBucket + "/" + bucketPath
	s.log.LogDebugf("uploaded %s", url)
	return url, nil
}
