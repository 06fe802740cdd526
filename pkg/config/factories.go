package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/internal/protocol/framing"
	adapterFraming "github.com/marmos91/framingd/pkg/adapter/framing"
	"github.com/marmos91/framingd/pkg/bufpool"
	"github.com/marmos91/framingd/pkg/deadletter"
	"github.com/marmos91/framingd/pkg/metrics"
	"github.com/marmos91/framingd/pkg/queue"
)

// CreateDeadLetterStore creates a dead-letter store based on configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific configuration
// from the corresponding map.
//
// Supported types:
//   - "none": no store, poison messages are logged and dropped (returns nil)
//   - "memory": process-local store, lost on restart
//   - "badger": persistent BadgerDB store
//   - "s3": one JSON object per record in an S3 bucket
func CreateDeadLetterStore(ctx context.Context, cfg *DeadLetterConfig) (deadletter.Store, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "memory":
		return deadletter.NewMemoryStore(), nil
	case "badger":
		return createBadgerDeadLetterStore(ctx, cfg.Badger)
	case "s3":
		return createS3DeadLetterStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown dead-letter store type: %q", cfg.Type)
	}
}

// createBadgerDeadLetterStore creates a BadgerDB-backed dead-letter store.
func createBadgerDeadLetterStore(ctx context.Context, options map[string]any) (deadletter.Store, error) {
	type BadgerDeadLetterConfig struct {
		DBPath     string `mapstructure:"db_path"`
		InMemory   bool   `mapstructure:"in_memory"`
		SyncWrites bool   `mapstructure:"sync_writes"`
	}

	var storeCfg BadgerDeadLetterConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger dead-letter config: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger dead-letter store: db_path is required")
	}

	store, err := deadletter.NewBadgerStore(ctx, deadletter.BadgerStoreConfig{
		DBPath:     storeCfg.DBPath,
		InMemory:   storeCfg.InMemory,
		SyncWrites: storeCfg.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger dead-letter store: %w", err)
	}

	logger.Info("Badger dead-letter store initialized: path=%s", storeCfg.DBPath)
	return store, nil
}

// S3DeadLetterConfig is the decoded form of the dead_letter.s3 section.
type S3DeadLetterConfig struct {
	Region          string        `mapstructure:"region"`
	Bucket          string        `mapstructure:"bucket"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// decodeS3DeadLetterConfig decodes and checks the s3 section.
func decodeS3DeadLetterConfig(options map[string]any) (S3DeadLetterConfig, error) {
	var storeCfg S3DeadLetterConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &storeCfg,
	})
	if err != nil {
		return storeCfg, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return storeCfg, fmt.Errorf("failed to decode S3 dead-letter config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return storeCfg, fmt.Errorf("S3 dead-letter store: bucket is required")
	}
	if storeCfg.Region == "" {
		return storeCfg, fmt.Errorf("S3 dead-letter store: region is required")
	}
	if storeCfg.MaxRetries == 0 {
		storeCfg.MaxRetries = 10
	}
	if storeCfg.Timeout == 0 {
		storeCfg.Timeout = 30 * time.Second
	}
	return storeCfg, nil
}

// createS3DeadLetterStore creates an S3-backed dead-letter store.
func createS3DeadLetterStore(ctx context.Context, options map[string]any) (deadletter.Store, error) {
	storeCfg, err := decodeS3DeadLetterConfig(options)
	if err != nil {
		return nil, err
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Static credentials when provided, otherwise the default chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(storeCfg.AccessKeyID, storeCfg.SecretAccessKey, ""),
		))
	}

	maxRetries := storeCfg.MaxRetries
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO, Localstack and friends need a fixed endpoint and
		// path-style addressing.
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	initCtx, cancel := context.WithTimeout(ctx, storeCfg.Timeout)
	defer cancel()

	store, err := deadletter.NewS3Store(initCtx, deadletter.S3StoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 dead-letter store: %w", err)
	}

	logger.Info("S3 dead-letter store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
	return store, nil
}

// CreateBufferManager creates the buffer manager shared by adapters and
// queue receivers. A zero pool budget selects unpooled allocation.
func CreateBufferManager(cfg *BuffersConfig) bufpool.BufferManager {
	return bufpool.NewBufferManager(cfg.MaxPoolSize, cfg.MaxBufferSize)
}

// FramingLimits returns the via and content type limits.
func (c *FramingConfig) FramingLimits() framing.Limits {
	return framing.Limits{
		MaxViaLength:         c.MaxViaLength,
		MaxContentTypeLength: c.MaxContentTypeLength,
	}
}

// CreateHost creates the framing host shared by all adapters and registers
// the configured endpoints.
func CreateHost(cfg *Config, buffers bufpool.BufferManager) (*adapterFraming.Host, error) {
	host := adapterFraming.NewHost(adapterFraming.HostConfig{
		Limits:                 cfg.Framing.FramingLimits(),
		MaxReceivedMessageSize: cfg.Framing.MaxReceivedMessageSize,
		ConnectionBufferSize:   cfg.Buffers.ConnectionBufferSize,
	}, nil, buffers)

	for i, ep := range cfg.Endpoints {
		registered, err := host.Endpoints().Register(ep.Name, ep.Address)
		if err != nil {
			return nil, fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		logger.Info("Endpoint %s registered at %s", registered.Name, registered)
	}
	return host, nil
}

// CreateReceivers creates one queue receiver per configured queue. The
// returned sources must be closed by the caller once the receivers stop.
func CreateReceivers(cfg *Config, deadLetters deadletter.Store, m metrics.QueueMetrics) ([]*queue.Receiver, []*queue.DirectorySource, error) {
	receivers := make([]*queue.Receiver, 0, len(cfg.Queues))
	sources := make([]*queue.DirectorySource, 0, len(cfg.Queues))

	for i, q := range cfg.Queues {
		src, err := queue.NewDirectorySource(queue.DirectorySourceConfig{
			Dir:          q.Directory,
			PollInterval: q.PollInterval,
			SegmentSize:  q.SegmentSize,
		})
		if err != nil {
			for _, s := range sources {
				_ = s.Close()
			}
			return nil, nil, fmt.Errorf("queues[%d]: %w", i, err)
		}
		sources = append(sources, src)

		receivers = append(receivers, queue.NewReceiver(queue.ReceiverConfig{
			Name:                   q.Name,
			Limits:                 cfg.Framing.FramingLimits(),
			MaxReceivedMessageSize: cfg.Framing.MaxReceivedMessageSize,
		}, src, deadLetters, m))
	}
	return receivers, sources, nil
}
