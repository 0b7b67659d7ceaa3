// Package reliability holds the off-host backup service: consistent sqlite
// copies, archived and shipped to S3-compatible object storage with
// retention rotation.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/database"
)

// Service backs the databases up to object storage. Each run produces one
// timestamped tar.gz holding a VACUUM INTO copy of every database plus a
// sha256 manifest, then prunes old archives past the retention count.
type Service struct {
	databases map[string]*database.DB
	cfg       config.BackupConfig
	client    *s3.Client
	uploader  *manager.Uploader
	log       zerolog.Logger
}

// NewService builds the backup service. Returns an error when no bucket is
// configured so the caller can leave the backup surface disabled.
func NewService(ctx context.Context, databases map[string]*database.DB, cfg config.BackupConfig, log zerolog.Logger) (*Service, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup bucket not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible stores rarely support virtual-hosted buckets
			o.UsePathStyle = true
		}
	})

	return &Service{
		databases: databases,
		cfg:       cfg,
		client:    client,
		uploader:  manager.NewUploader(client),
		log:       log.With().Str("component", "backup").Logger(),
	}, nil
}

// Run performs one full backup cycle: copy, verify, archive, upload, rotate.
func (s *Service) Run(ctx context.Context) error {
	started := time.Now()

	workDir, err := os.MkdirTemp("", "spyglass-backup-*")
	if err != nil {
		return fmt.Errorf("failed to create backup workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	copies, err := s.copyDatabases(workDir)
	if err != nil {
		return err
	}

	archivePath := filepath.Join(workDir, s.archiveName(started))
	if err := buildArchive(archivePath, copies); err != nil {
		return err
	}

	key := s.objectKey(started)
	if err := s.upload(ctx, archivePath, key); err != nil {
		return err
	}

	if err := s.rotate(ctx); err != nil {
		// The new archive is safe; rotation can catch up next run
		s.log.Error().Err(err).Msg("Failed to rotate old backups")
	}

	s.log.Info().
		Str("key", key).
		Int("databases", len(copies)).
		Dur("duration", time.Since(started)).
		Msg("Backup finished")
	return nil
}

// copyDatabases takes a consistent copy of every database via VACUUM INTO
// and verifies each copy's integrity before it is archived.
func (s *Service) copyDatabases(workDir string) ([]string, error) {
	paths := make([]string, 0, len(s.databases))
	for name, db := range s.databases {
		dst := filepath.Join(workDir, name+".db")
		if _, err := db.Conn().Exec(fmt.Sprintf("VACUUM INTO '%s'", dst)); err != nil {
			return nil, fmt.Errorf("VACUUM INTO failed for %s: %w", name, err)
		}
		if err := verifyCopy(dst); err != nil {
			return nil, fmt.Errorf("backup copy of %s failed verification: %w", name, err)
		}
		paths = append(paths, dst)
	}
	sort.Strings(paths)
	return paths, nil
}

func verifyCopy(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

// buildArchive writes the database copies into a tar.gz along with a
// checksums.txt manifest of their sha256 digests.
func buildArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var manifest strings.Builder
	for _, path := range files {
		sum, err := addFile(tw, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&manifest, "%x  %s\n", sum, filepath.Base(path))
	}

	content := []byte(manifest.String())
	if err := tw.WriteHeader(&tar.Header{
		Name:    "checksums.txt",
		Mode:    0644,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize gzip: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:    filepath.Base(path),
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}); err != nil {
		return nil, fmt.Errorf("failed to write tar header for %s: %w", path, err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tw, h), f); err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

func (s *Service) upload(ctx context.Context, archivePath, key string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup to s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	return nil
}

// rotate deletes the oldest archives beyond the retention count. The
// timestamped key format sorts lexicographically by age.
func (s *Service) rotate(ctx context.Context) error {
	if s.cfg.RetainCount <= 0 {
		return nil
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.keyPrefix()),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	if len(keys) <= s.cfg.RetainCount {
		return nil
	}
	sort.Strings(keys)
	stale := keys[:len(keys)-s.cfg.RetainCount]

	objects := make([]types.ObjectIdentifier, len(stale))
	for i, k := range stale {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.cfg.Bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete stale backups: %w", err)
	}

	s.log.Info().Int("deleted", len(stale)).Msg("Rotated old backups")
	return nil
}

func (s *Service) keyPrefix() string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return "backups/"
	}
	return prefix + "/"
}

func (s *Service) archiveName(t time.Time) string {
	return fmt.Sprintf("spyglass_%s.tar.gz", t.UTC().Format("20060102_150405"))
}

func (s *Service) objectKey(t time.Time) string {
	return s.keyPrefix() + s.archiveName(t)
}
