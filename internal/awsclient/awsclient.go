// Package awsclient builds the AWS service clients shared by every role.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/joshsymonds/remediator/pkg/logger"
)

// DefaultRegion is used when neither options nor the environment name a region.
const DefaultRegion = "us-east-1"

// Options selects the region, profile and an optional endpoint override (LocalStack).
type Options struct {
	Logger   logger.Logger
	Region   string
	Profile  string
	Endpoint string
	Debug    bool
}

// Clients holds one client per service the pipeline talks to.
type Clients struct {
	S3         *s3.Client
	SQS        *sqs.Client
	IAM        *iam.Client
	ECS        *ecs.Client
	CloudWatch *cloudwatch.Client
	Config     aws.Config
}

// LoadConfig resolves an aws.Config from the default credential chain.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithLogger(logger.AWSLogger(log)),
		config.WithRetryMode(aws.RetryModeAdaptive),
	}
	if opts.Debug {
		loadOpts = append(loadOpts, config.WithClientLogMode(aws.LogRetries|aws.LogRequest))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if opts.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return cfg, nil
}

// New builds every service client from one resolved config.
func New(ctx context.Context, opts Options) (*Clients, error) {
	cfg, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg), nil
}

// FromConfig builds the clients from an already resolved config.
func FromConfig(cfg aws.Config) *Clients {
	return &Clients{
		Config: cfg,
		S3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			// LocalStack serves buckets on the path, not a virtual host.
			o.UsePathStyle = cfg.BaseEndpoint != nil
		}),
		SQS:        sqs.NewFromConfig(cfg),
		IAM:        iam.NewFromConfig(cfg),
		ECS:        ecs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}
}
