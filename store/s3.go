package store

import (
	"bytes"
	"context"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// A S3 store keeps backups in a flat bucket key space. There are no folders:
// EnsureDir is a no-op, Kind never reports KindFolder, and Stat is
// unsupported. Do not change Bucket or Prefix concurrently with calls using
// the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
	sizes  *sizecache // remember HEAD info
}

var _ Store = &S3{}

// NewS3 creates a new S3 store. It will use the given bucket and will
// prepend prefix to all keys. This is to allow a bucket to be shared by
// more than one store. The authorization method and credentials in the
// session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
		sizes:  newSizeCache(),
	}
}

func (s *S3) key(p string) string {
	return s.Prefix + normalize(p)
}

func (s *S3) Kind(ctx context.Context, p string) (Kind, error) {
	_, err := s.sizes.Get(normalize(p), func(key string) (int64, error) {
		return s.head(ctx, key)
	})
	switch err {
	case nil:
		return KindFile, nil
	case ErrNotFound:
		return KindMissing, nil
	}
	return KindMissing, err
}

// head issues the HEAD request behind the size cache. key is already
// normalized but has no store prefix.
func (s *S3) head(ctx context.Context, key string) (int64, error) {
	info, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrNotFound
		}
		log.Println("S3 head:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": s.Prefix + key})
		return 0, err
	}
	return aws.Int64Value(info.ContentLength), nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Println("S3 List:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
	}
	sort.Strings(result)
	return result, err
}

func (s *S3) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	return s.get(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(p)),
	})
}

// ReadTOC asks any intermediary cache to step aside. The bucket itself has
// no read cache to bypass.
func (s *S3) ReadTOC(ctx context.Context, p string) ([]byte, error) {
	return s.get(ctx, &s3.GetObjectInput{
		Bucket:               aws.String(s.Bucket),
		Key:                  aws.String(s.key(p)),
		ResponseCacheControl: aws.String("no-cache"),
	})
}

func (s *S3) get(ctx context.Context, input *s3.GetObjectInput) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		log.Println("S3 get:", *input.Key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": *input.Key})
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) WriteBinary(ctx context.Context, p string, data []byte) error {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(p)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		log.Println("S3 put:", s.key(p), err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": s.key(p)})
		return err
	}
	s.sizes.Set(normalize(p), int64(len(data)))
	return nil
}

func (s *S3) WriteTOC(ctx context.Context, p string, data []byte) error {
	return s.WriteBinary(ctx, p, data)
}

// Stat is unsupported: a flat key space keeps no usable per-object mtime
// for change detection.
func (s *S3) Stat(ctx context.Context, p string) (Info, error) {
	return Info{}, ErrNotSupported
}

// EnsureDir is a no-op. There are no folders in a bucket.
func (s *S3) EnsureDir(ctx context.Context, p string) error {
	return nil
}

func (s *S3) Delete(ctx context.Context, p string) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		log.Println("S3 delete:", s.key(p), err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": s.key(p)})
		return err
	}
	s.sizes.Set(normalize(p), sizeDeleted)
	return nil
}

func (s *S3) NormalizePath(p string) string {
	return normalize(p)
}

// isNotFound reports whether err is the backend's way of saying the key
// names nothing.
func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
