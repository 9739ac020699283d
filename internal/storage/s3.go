package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	keyPrefix       = "recordings/"
	completedMarker = ".completed"
	minPartSize     = 5 * 1024 * 1024 // S3 minimum multipart part size
)

// ErrEmptyRecording is returned when a recording has no bytes to upload.
var ErrEmptyRecording = errors.New("recording is empty")

// s3API is the subset of the S3 client the archive uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Archive implements the Archive interface for MinIO/S3
type S3Archive struct {
	client   s3API
	bucket   string
	partSize int
	logger   *zap.Logger
}

// S3Config holds MinIO/S3 configuration
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// NewS3Archive creates a new MinIO/S3 archive
func NewS3Archive(cfg S3Config, logger *zap.Logger) (*S3Archive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Build endpoint URL
	endpoint := cfg.Endpoint
	if !strings.Contains(endpoint, "://") {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true, // Required for MinIO
	})

	return newS3Archive(client, cfg.Bucket, logger), nil
}

func newS3Archive(client s3API, bucket string, logger *zap.Logger) *S3Archive {
	return &S3Archive{
		client:   client,
		bucket:   bucket,
		partSize: minPartSize,
		logger:   logger,
	}
}

// UploadRecording streams the file at localPath to recordings/<session>/<name>.
func (s *S3Archive) UploadRecording(ctx context.Context, sessionID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	key := s.recordingPath(sessionID, filepath.Base(localPath))
	w, err := NewS3StreamWriter(ctx, s.client, s.bucket, key, contentType(localPath), s.partSize, s.logger)
	if err != nil {
		return "", err
	}

	start := time.Now()
	n, err := io.Copy(w, f)
	if err != nil {
		w.Abort()
		return "", fmt.Errorf("failed to upload recording: %w", err)
	}
	if n == 0 {
		w.Abort()
		return "", fmt.Errorf("%w: %s", ErrEmptyRecording, localPath)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	s.logger.Info("Uploaded recording",
		zap.String("session_id", sessionID),
		zap.String("key", key),
		zap.Int64("bytes", n),
		zap.Duration("took", time.Since(start)))

	return key, nil
}

// WriteMetadata writes session metadata JSON
func (s *S3Archive) WriteMetadata(ctx context.Context, sessionID string, metadata *RecordingMetadata) error {
	if err := s.putJSON(ctx, s.recordingPath(sessionID, "metadata.json"), metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// WriteTimeline writes timeline events JSON
func (s *S3Archive) WriteTimeline(ctx context.Context, sessionID string, timeline *Timeline) error {
	if err := s.putJSON(ctx, s.recordingPath(sessionID, "timeline.json"), timeline); err != nil {
		return fmt.Errorf("failed to write timeline: %w", err)
	}
	return nil
}

// FinalizeRecording marks a recording as complete
func (s *S3Archive) FinalizeRecording(ctx context.Context, sessionID string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.recordingPath(sessionID, completedMarker)),
		Body:        bytes.NewReader([]byte{}),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to create completed marker: %w", err)
	}

	s.logger.Info("Finalized archived recording", zap.String("session_id", sessionID))
	return nil
}

// ListRecordings returns sessions that carry a completed marker.
func (s *S3Archive) ListRecordings(ctx context.Context) ([]RemoteRecording, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})

	var out []RemoteRecording
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list recordings: %w", err)
		}
		for _, obj := range page.Contents {
			sessionID, ok := parseCompletedKey(aws.ToString(obj.Key))
			if !ok {
				continue
			}
			out = append(out, RemoteRecording{
				SessionID:   sessionID,
				CompletedAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out, nil
}

// Health checks storage connectivity
func (s *S3Archive) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket health check failed: %w", err)
	}
	return nil
}

func (s *S3Archive) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3Archive) recordingPath(sessionID, filename string) string {
	return fmt.Sprintf("%s%s/%s", keyPrefix, sessionID, filename)
}

func parseCompletedKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, keyPrefix)
	if rest == key {
		return "", false
	}
	sessionID, name, ok := strings.Cut(rest, "/")
	if !ok || name != completedMarker || sessionID == "" {
		return "", false
	}
	return sessionID, true
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

// S3StreamWriter implements io.WriteCloser for streaming uploads to S3
type S3StreamWriter struct {
	ctx        context.Context
	client     s3API
	bucket     string
	key        string
	logger     *zap.Logger
	uploadID   string
	partNumber int32
	parts      []types.CompletedPart
	buffer     *bytes.Buffer
	bufferSize int
	mu         sync.Mutex
	closed     bool
}

// NewS3StreamWriter starts a multipart upload to key.
func NewS3StreamWriter(ctx context.Context, client s3API, bucket, key, contentType string, partSize int, logger *zap.Logger) (*S3StreamWriter, error) {
	if partSize <= 0 {
		partSize = minPartSize
	}
	output, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}

	return &S3StreamWriter{
		ctx:        ctx,
		client:     client,
		bucket:     bucket,
		key:        key,
		logger:     logger,
		uploadID:   aws.ToString(output.UploadId),
		buffer:     bytes.NewBuffer(make([]byte, 0, partSize)),
		bufferSize: partSize,
	}, nil
}

// Write implements io.Writer
func (w *S3StreamWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("writer is closed")
	}

	n, err = w.buffer.Write(p)
	if err != nil {
		return n, err
	}

	for w.buffer.Len() >= w.bufferSize {
		if err := w.uploadPart(w.buffer.Next(w.bufferSize)); err != nil {
			return n, err
		}
	}

	return n, nil
}

func (w *S3StreamWriter) uploadPart(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	w.partNumber++
	data := make([]byte, len(chunk))
	copy(data, chunk)

	output, err := w.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(w.partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", w.partNumber, err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       output.ETag,
		PartNumber: aws.Int32(w.partNumber),
	})

	return nil
}

// Abort cancels the multipart upload and discards buffered data.
func (w *S3StreamWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.abortLocked()
}

func (w *S3StreamWriter) abortLocked() {
	_, err := w.client.AbortMultipartUpload(w.ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	if err != nil {
		w.logger.Warn("Failed to abort multipart upload", zap.String("key", w.key), zap.Error(err))
	}
}

// Close implements io.Closer
func (w *S3StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	// Upload remaining data
	if w.buffer.Len() > 0 {
		if err := w.uploadPart(w.buffer.Bytes()); err != nil {
			w.abortLocked()
			return err
		}
		w.buffer.Reset()
	}

	if len(w.parts) == 0 {
		// No parts uploaded, abort the multipart upload
		w.abortLocked()
		return nil
	}

	_, err := w.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: w.parts,
		},
	})
	if err != nil {
		w.abortLocked()
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}
