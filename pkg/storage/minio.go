// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"voxchat-go/internal/config"
	"voxchat-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore 是按名称存取二进制对象的最小接口。
type ObjectStore interface {
	Put(ctx context.Context, bucket, name string, data []byte, contentType string) error
	PublicURL(bucket, name string) string
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Remove(ctx context.Context, bucket, name string) error
}

// MinioStore 基于 MinIO 实现 ObjectStore。
type MinioStore struct {
	client     *minio.Client
	publicBase string
}

// publicReadPolicy 允许匿名读取桶内对象，使公开地址可直接访问。
const publicReadPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`

// NewMinioStore 初始化 MinIO 客户端。
func NewMinioStore(cfg config.MinIOConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return &MinioStore{client: client, publicBase: base}, nil
}

// EnsureBucket 确保存储桶存在并可公开读取。
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucket)
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucket)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucket)
	}
	if err := s.client.SetBucketPolicy(ctx, bucket, fmt.Sprintf(publicReadPolicy, bucket)); err != nil {
		return fmt.Errorf("设置存储桶读取策略失败: %w", err)
	}
	return nil
}

// Put 以给定名称上传对象，同名对象会被覆盖。
func (s *MinioStore) Put(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("上传对象 %s/%s 失败: %w", bucket, name, err)
	}
	return nil
}

// PublicURL 返回对象的公开访问地址。
func (s *MinioStore) PublicURL(bucket, name string) string {
	return PublicURL(s.publicBase, bucket, name)
}

// List 返回桶内以 prefix 开头的全部对象名。
func (s *MinioStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("列出对象失败: %w", obj.Err)
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

// Remove 删除对象，对象不存在时不报错。
func (s *MinioStore) Remove(ctx context.Context, bucket, name string) error {
	if err := s.client.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s/%s 失败: %w", bucket, name, err)
	}
	return nil
}

// PublicURL 由公开根地址、桶名与对象名拼出访问地址。
func PublicURL(base, bucket, name string) string {
	segments := strings.Split(name, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.Join(segments, "/")
}

// ObjectNameFromURL 从公开地址中反推对象名；地址不属于该桶时返回 false。
func ObjectNameFromURL(base, bucket, rawURL string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/" + bucket + "/"
	rest, ok := strings.CutPrefix(rawURL, prefix)
	if !ok || rest == "" {
		return "", false
	}
	name, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return name, true
}

// NameFromURL 是 ObjectNameFromURL 在本存储上的便捷形式。
func (s *MinioStore) NameFromURL(bucket, rawURL string) (string, bool) {
	return ObjectNameFromURL(s.publicBase, bucket, rawURL)
}
