// Package reliability implements the periodic backup of portfolio.db to an
// S3-compatible bucket: stage a copy, archive it as tar.gz with a checksum,
// upload, and rotate old archives.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupInfo describes one archive stored in the bucket.
type BackupInfo struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
	AgeHours  int64
}

// Service creates, lists, and rotates gzip-tar backups of portfolio.db in
// an S3-compatible bucket (Cloudflare R2, MinIO, or AWS S3 proper — any
// endpoint the aws-sdk-go-v2 client can reach).
type Service struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	dbPath   string
	dataDir  string
	log      zerolog.Logger
}

const keyPrefix = "ledgerfolio-backup-"
const timestampLayout = "2006-01-02-150405"

// New resolves AWS credentials the standard way (env vars, shared config,
// or explicit endpoint override for R2/MinIO) and returns a Service, or nil
// if bucket is empty — backups are opt-in, and the caller skips wiring the
// job entirely when no bucket is configured.
func New(ctx context.Context, bucket, region, endpoint, dbPath, dataDir string, log zerolog.Logger) (*Service, error) {
	if bucket == "" {
		return nil, nil
	}

	optFns := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = endpoint != ""
		if ak, sk := os.Getenv("BACKUP_S3_ACCESS_KEY"), os.Getenv("BACKUP_S3_SECRET_KEY"); ak != "" && sk != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(ak, sk, "")
		}
	})

	return &Service{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		dbPath:   dbPath,
		dataDir:  dataDir,
		log:      log.With().Str("component", "backup").Logger(),
	}, nil
}

// CreateAndUploadBackup stages a consistent copy of portfolio.db, archives
// it as tar.gz alongside a checksum, and uploads it to the bucket.
func (s *Service) CreateAndUploadBackup(ctx context.Context) error {
	start := time.Now()
	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	dbName := filepath.Base(s.dbPath)
	stagedPath := filepath.Join(stagingDir, dbName)
	if err := copyFile(s.dbPath, stagedPath); err != nil {
		return fmt.Errorf("stage database copy: %w", err)
	}

	checksum, err := fileChecksum(stagedPath)
	if err != nil {
		return fmt.Errorf("checksum database copy: %w", err)
	}

	timestamp := time.Now().UTC()
	archiveName := fmt.Sprintf("%s%s.tar.gz", keyPrefix, timestamp.Format(timestampLayout))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, map[string]string{dbName: stagedPath}); err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &archiveName,
		Body:   archiveFile,
		Metadata: map[string]string{
			"sha256": checksum,
		},
	}); err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}

	s.log.Info().Str("archive", archiveName).Dur("duration_ms", time.Since(start)).Msg("backup uploaded")
	return nil
}

// ListBackups lists every archive in the bucket, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: awsString(keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseBackupTimestamp(*obj.Key)
		if !ok {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{
			Key: *obj.Key, Timestamp: ts, SizeBytes: size,
			AgeHours: int64(now.Sub(ts).Hours()),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// RotateOldBackups deletes archives older than retentionDays, always
// keeping at least the 3 newest. retentionDays=0 keeps everything.
func (s *Service) RotateOldBackups(ctx context.Context, retentionDays int) error {
	const minKeep = 3
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("list backups for rotation: %w", err)
	}
	if len(backups) <= minKeep || retentionDays == 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for i, b := range backups {
		if i < minKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &b.Key}); err != nil {
			s.log.Warn().Err(err).Str("key", b.Key).Msg("failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.Key).Msg("rotated old backup")
	}
	return nil
}

func parseBackupTimestamp(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), ".tar.gz")
	ts, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func createArchive(archivePath string, files map[string]string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for name, path := range files {
		if err := addFileToTar(tw, name, path); err != nil {
			return err
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func awsString(s string) *string { return &s }
