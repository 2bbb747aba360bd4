package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// listPageSize is the number of keys requested per listing call
const listPageSize = 1000

// minioAPI adapts minio-go to objectAPI
type minioAPI struct {
	core *minio.Core
}

func (m *minioAPI) listPage(ctx context.Context, bucket, prefix, token string) (page, error) {
	result, err := m.core.ListObjectsV2(bucket, prefix, "", token, "", listPageSize)
	if err != nil {
		return page{}, err
	}

	p := page{
		keys:      make([]string, 0, len(result.Contents)),
		nextToken: result.NextContinuationToken,
		truncated: result.IsTruncated,
	}
	for _, object := range result.Contents {
		p.keys = append(p.keys, object.Key)
	}

	return p, nil
}

func (m *minioAPI) getObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	body, info, _, err := m.core.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	return body, info.Size, nil
}

func (m *minioAPI) putObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) error {
	_, err := m.core.Client.PutObject(ctx, bucket, key, r, size, opts)
	return err
}

func (m *minioAPI) statObject(ctx context.Context, bucket, key string) error {
	_, err := m.core.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	return err
}

func (m *minioAPI) removeObject(ctx context.Context, bucket, key string) error {
	return m.core.Client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (m *minioAPI) bucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.core.Client.BucketExists(ctx, bucket)
}

func (m *minioAPI) makeBucket(ctx context.Context, bucket, region string) error {
	return m.core.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func (m *minioAPI) removeObjects(ctx context.Context, bucket string, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			objectsCh <- minio.ObjectInfo{Key: key}
		}
	}()

	var failed error
	for result := range m.core.Client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil && failed == nil {
			failed = fmt.Errorf("object %s: %w", result.ObjectName, result.Err)
		}
	}
	return failed
}
