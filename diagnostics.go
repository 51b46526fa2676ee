package healthsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/healthsync-dev/healthsync/internal/encoding"
)

// Devices periodically dump diagnostic chunks over their own data-logging
// tag. The engine does not interpret them; it forwards each chunk to a
// ChunkUploader for offline analysis.

// ChunkUploader receives diagnostic chunks from the device.
type ChunkUploader interface {
	UploadChunk(ctx context.Context, deviceSerial string, chunk []byte) error
}

// DecodeDiagnosticChunks splits a diagnostics payload into its chunks. Each
// chunk is a little-endian u32 length followed by that many bytes; a
// truncated trailing chunk fails the whole payload.
func DecodeDiagnosticChunks(payload []byte) ([][]byte, error) {
	r := encoding.NewReader(payload)
	var chunks [][]byte
	for r.Remaining() > 0 {
		size := r.Uint32()
		chunk := r.Bytes(int(size))
		if r.Err() != nil {
			return nil, fmt.Errorf("truncated diagnostic chunk at offset %d: %w", r.Offset(), r.Err())
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// HTTPChunkUploader posts chunks to a collection endpoint.
type HTTPChunkUploader struct {
	endpoint string
	client   *http.Client
}

// NewHTTPChunkUploader returns an uploader posting to endpoint. A nil client
// defaults to a 30-second timeout.
func NewHTTPChunkUploader(endpoint string, client *http.Client) *HTTPChunkUploader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPChunkUploader{endpoint: endpoint, client: client}
}

// UploadChunk implements ChunkUploader.
func (u *HTTPChunkUploader) UploadChunk(ctx context.Context, deviceSerial string, chunk []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if deviceSerial != "" {
		req.Header.Set("X-Device-Serial", deviceSerial)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload diagnostic chunk: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("diagnostic upload rejected: %s", resp.Status)
	}
	return nil
}

// S3UploaderConfig configures the S3 chunk uploader.
type S3UploaderConfig struct {
	Bucket   string
	Region   string
	Endpoint string // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer using IAM roles, instance
	// profiles, or environment variables (AWS_ACCESS_KEY_ID,
	// AWS_SECRET_ACCESS_KEY) instead of setting these directly. DO NOT
	// commit credentials to source control.
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // Key prefix for all objects
	UsePathStyle    bool   // Use path-style addressing
}

// S3ChunkUploader stores chunks in S3-compatible object storage, one object
// per chunk keyed by device serial and receive time.
type S3ChunkUploader struct {
	client *s3.Client
	config S3UploaderConfig
}

// NewS3ChunkUploader creates an uploader against the configured bucket.
func NewS3ChunkUploader(ctx context.Context, cfg S3UploaderConfig) (*S3ChunkUploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3ChunkUploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
	}, nil
}

// UploadChunk implements ChunkUploader.
func (u *S3ChunkUploader) UploadChunk(ctx context.Context, deviceSerial string, chunk []byte) error {
	if deviceSerial == "" {
		deviceSerial = "unknown"
	}
	key := path.Join(u.config.Prefix, deviceSerial,
		fmt.Sprintf("%d.bin", time.Now().UnixNano()))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.config.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(chunk),
	})
	if err != nil {
		return fmt.Errorf("failed to store diagnostic chunk: %w", err)
	}
	return nil
}
