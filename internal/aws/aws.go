package aws

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const (
	serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	defaultProfile          = "default"
)

// ConfigOptions selects where KMS signing credentials and endpoints come from.
type ConfigOptions struct {
	Region string
	// Profile pins a shared config profile; AWS_PROFILE, then "default", otherwise.
	Profile string
	// Endpoint overrides the service endpoint, e.g. a KMS compatible emulator.
	Endpoint string
}

// loadOptions are the config loaders for opts. Inside Kubernetes no profile
// is pinned so the pod identity wins.
func (opts *ConfigOptions) loadOptions(inKubernetes bool) []func(*config.LoadOptions) error {
	var options []func(*config.LoadOptions) error
	if !inKubernetes || opts.Profile != "" {
		options = append(options, config.WithSharedConfigProfile(opts.profile()))
	}
	if opts.Region != "" {
		options = append(options, config.WithRegion(opts.Region))
	}
	if opts.Endpoint != "" {
		options = append(options, config.WithBaseEndpoint(opts.Endpoint))
	}
	return options
}

func (opts *ConfigOptions) profile() string {
	if opts.Profile != "" {
		return opts.Profile
	}
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		return profile
	}
	return defaultProfile
}

func LoadAWSConfig(ctx context.Context, opts *ConfigOptions) (aws.Config, error) {
	if opts == nil {
		opts = &ConfigOptions{}
	}
	return config.LoadDefaultConfig(ctx, opts.loadOptions(isInKubernetes())...)
}

func isInKubernetes() bool {
	_, err := os.Stat(serviceAccountTokenPath)
	return err == nil
}

// GetCallerIdentity reports which AWS principal the config resolves to.
func GetCallerIdentity(ctx context.Context, cfg aws.Config) (*sts.GetCallerIdentityOutput, error) {
	return sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
}
