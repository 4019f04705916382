package s3io

import (
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PresignerSource hands out a presigner bound to a region.
type PresignerSource interface {
	For(region string) Presigner
}

// RegionalPresigners builds one presign client per region from a shared
// AWS config. A URL signed for the wrong region is rejected by S3, so the
// bucket's resolved region always picks the client.
type RegionalPresigners struct {
	cfg aws.Config

	mu      sync.Mutex
	clients map[string]*s3.PresignClient
}

func NewRegionalPresigners(cfg aws.Config) *RegionalPresigners {
	return &RegionalPresigners{cfg: cfg, clients: make(map[string]*s3.PresignClient)}
}

func (p *RegionalPresigners) For(region string) Presigner {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[region]; ok {
		return c
	}
	c := s3.NewPresignClient(NewClient(p.cfg, region))
	p.clients[region] = c
	return c
}

// NewClient returns an S3 client for region, or the config's region when
// empty. Path-style addressing is used when a custom endpoint (localstack,
// minio) is configured.
func NewClient(cfg aws.Config, region string) *s3.Client {
	pathStyle := aws.ToString(cfg.BaseEndpoint) != ""
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
		o.UsePathStyle = pathStyle // localstack/dev friendliness
	})
}
