package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/3leaps/pokefantasia/internal/compute"
	"github.com/3leaps/pokefantasia/internal/config"
	"github.com/3leaps/pokefantasia/pkg/provider"
	fileprovider "github.com/3leaps/pokefantasia/pkg/provider/file"
	s3provider "github.com/3leaps/pokefantasia/pkg/provider/s3"
	"github.com/3leaps/pokefantasia/pkg/transform"
	"github.com/3leaps/pokefantasia/pkg/variant"
)

// bucketOpener hands out a provider per bucket name, sharing one S3
// client across all buckets when the s3 backend is active.
type bucketOpener struct {
	backend string
	baseDir string
	client  *awss3.Client
}

func newBucketOpener(ctx context.Context, cfg *config.Config) (*bucketOpener, error) {
	o := &bucketOpener{backend: cfg.Storage.Backend, baseDir: cfg.Storage.BaseDir}
	if o.backend != "s3" {
		return o, nil
	}

	client, err := s3provider.NewClient(ctx, s3provider.Config{
		Bucket:          cfg.Buckets.TypeID.Source,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		Profile:         cfg.S3.Profile,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("build s3 client: %w", err)
	}
	o.client = client
	return o, nil
}

func (o *bucketOpener) open(bucket string) (provider.Provider, error) {
	if o.backend == "s3" {
		return s3provider.NewFromClient(o.client, bucket), nil
	}
	return fileprovider.New(fileprovider.Config{
		BaseDir: filepath.Join(o.baseDir, bucket),
	})
}

// buildBuckets opens the source and output providers for every backend
// class, sharing the opener's client across all of them.
func buildBuckets(opener *bucketOpener, cfg *config.Config) (map[variant.BackendClass]compute.Buckets, error) {
	out := make(map[variant.BackendClass]compute.Buckets, 3)
	for _, class := range []variant.BackendClass{
		variant.ClassTypeID, variant.ClassTypeConv, variant.ClassFormatConv,
	} {
		pair, err := cfg.Buckets.Pair(class)
		if err != nil {
			return nil, err
		}
		source, err := opener.open(pair.Source)
		if err != nil {
			return nil, fmt.Errorf("open source bucket %s: %w", pair.Source, err)
		}
		output, err := opener.open(pair.Output)
		if err != nil {
			return nil, fmt.Errorf("open output bucket %s: %w", pair.Output, err)
		}
		out[class] = compute.Buckets{Source: source, Output: output}
	}
	return out, nil
}

// buildRegistry assembles the transformer per variant kind.
func buildRegistry(opener *bucketOpener, cfg *config.Config) (*transform.Registry, error) {
	models, err := opener.open(cfg.Model.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open model bucket %s: %w", cfg.Model.Bucket, err)
	}

	r := transform.NewRegistry()
	r.Register(variant.KindFormatConv, transform.NewFormatConverter())
	r.Register(variant.KindTypeConv, transform.NewTypeConverter(cfg.Inference.Endpoint, cfg.Inference.Timeout))
	r.Register(variant.KindTypeID, transform.NewClassifier(models, cfg.Model.Key))
	return r, nil
}

func buildRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Trigger.RedisAddr,
		Password: cfg.Trigger.RedisPassword,
		DB:       cfg.Trigger.RedisDB,
	})
}
