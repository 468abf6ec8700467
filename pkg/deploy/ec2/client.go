// Package ec2 drives worker fleets on AWS EC2 instances launched from a launch template.
package ec2

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"yarrow/pkg/config"
	"yarrow/pkg/constants"
	"yarrow/pkg/interfaces"
	"yarrow/pkg/logger"
)

const (
	nameTag  = "Name"
	fleetTag = "yarrow-fleet" // fleet name prefix, set on every launched instance
)

// ec2API is the subset of the EC2 service used by Client
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Client implements interfaces.CloudFleetClient on EC2.
// Instances are addressed by their Name tag; the tag-to-id mapping is refreshed on every listing.
type Client struct {
	api        ec2API
	cfg        config.EC2Config
	namePrefix string

	mu  sync.Mutex
	ids map[string]string // Name tag -> instance id
}

// NewClient creates an EC2 client from the default credential chain, overridden by configured keys
func NewClient(ctx context.Context, cfg config.EC2Config, namePrefix string) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	logger.InfoCtx(ctx, "EC2 client initialized: region=%s, launch template=%s", awsCfg.Region, cfg.LaunchTemplate)
	return newClient(ec2.NewFromConfig(awsCfg), cfg, namePrefix), nil
}

func newClient(api ec2API, cfg config.EC2Config, namePrefix string) *Client {
	return &Client{
		api:        api,
		cfg:        cfg,
		namePrefix: namePrefix,
		ids:        make(map[string]string),
	}
}

// ListInstances lists fleet instances by Name tag. Terminated instances are omitted.
func (c *Client) ListInstances(ctx context.Context) ([]*interfaces.InstanceView, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{
			Name:   aws.String("tag:" + nameTag),
			Values: []string{c.namePrefix + "*"},
		}},
	}

	ids := make(map[string]string)
	var views []*interfaces.InstanceView
	paginator := ec2.NewDescribeInstancesPaginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				status, ok := mapState(inst.State)
				if !ok {
					continue
				}
				name := tagValue(inst.Tags, nameTag)
				if name == "" {
					continue
				}
				ids[name] = aws.ToString(inst.InstanceId)
				views = append(views, &interfaces.InstanceView{Name: name, Status: string(status)})
			}
		}
	}

	c.mu.Lock()
	c.ids = ids
	c.mu.Unlock()

	return views, nil
}

// BulkCreate launches up to req.Count instances in one RunInstances call and names them in order
func (c *Client) BulkCreate(ctx context.Context, req *interfaces.BulkCreateRequest) (*interfaces.Operation, error) {
	out, err := c.api.RunInstances(ctx, c.buildRunInstancesInput(req))
	if err != nil {
		return nil, fmt.Errorf("failed to run instances: %w", err)
	}

	op := &interfaces.Operation{
		ID:        aws.ToString(out.ReservationId),
		Kind:      "bulkCreate",
		Target:    req.NamePattern,
		Done:      true,
		StartedAt: time.Now(),
	}

	for i, inst := range out.Instances {
		if i >= len(req.Names) {
			break
		}
		name, id := req.Names[i], aws.ToString(inst.InstanceId)
		_, err := c.api.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{id},
			Tags:      []types.Tag{{Key: aws.String(nameTag), Value: aws.String(name)}},
		})
		if err != nil {
			// an untagged instance is never listed and will look LOST
			logger.WarnCtx(ctx, "Failed to tag instance %s as %s: %v", id, name, err)
			op.Error = fmt.Sprintf("failed to tag %s", id)
			continue
		}
		c.mu.Lock()
		c.ids[name] = id
		c.mu.Unlock()
	}

	if len(out.Instances) < req.Count {
		logger.WarnCtx(ctx, "Launched %d of %d requested instances", len(out.Instances), req.Count)
	}
	return op, nil
}

// DeleteInstance terminates the instance last listed under name
func (c *Client) DeleteInstance(ctx context.Context, name string) (*interfaces.Operation, error) {
	c.mu.Lock()
	id, ok := c.ids[name]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("instance %s not found", name)
	}

	out, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("failed to terminate instance %s: %w", name, err)
	}

	op := &interfaces.Operation{ID: id, Kind: "delete", Target: name, StartedAt: time.Now()}
	for _, change := range out.TerminatingInstances {
		if change.CurrentState != nil && change.CurrentState.Name == types.InstanceStateNameTerminated {
			op.Done = true
		}
	}
	return op, nil
}

func (c *Client) buildRunInstancesInput(req *interfaces.BulkCreateRequest) *ec2.RunInstancesInput {
	tags := []types.Tag{{Key: aws.String(fleetTag), Value: aws.String(c.namePrefix)}}
	for k, v := range req.Labels {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	minCount := req.MinCount
	if minCount < 1 {
		minCount = 1
	}

	return &ec2.RunInstancesInput{
		MinCount: aws.Int32(int32(minCount)),
		MaxCount: aws.Int32(int32(req.Count)),
		LaunchTemplate: &types.LaunchTemplateSpecification{
			LaunchTemplateName: aws.String(c.cfg.LaunchTemplate),
		},
		UserData: aws.String(base64.StdEncoding.EncodeToString([]byte(req.StartupScript))),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         tags,
		}},
		// a worker's own shutdown must leave it stopped, never terminated
		InstanceInitiatedShutdownBehavior: types.ShutdownBehaviorStop,
	}
}

// mapState converts an EC2 instance state to a worker status.
// Terminated instances are reported as absent.
func mapState(state *types.InstanceState) (constants.WorkerStatus, bool) {
	if state == nil {
		return "", false
	}
	switch state.Name {
	case types.InstanceStateNamePending:
		return constants.WorkerStatusProvisioning, true
	case types.InstanceStateNameRunning:
		return constants.WorkerStatusRunning, true
	case types.InstanceStateNameStopping, types.InstanceStateNameShuttingDown:
		return constants.WorkerStatusStopping, true
	case types.InstanceStateNameStopped:
		return constants.WorkerStatusTerminated, true
	case types.InstanceStateNameTerminated:
		return "", false
	default:
		return constants.WorkerStatus(state.Name), true
	}
}

func tagValue(tags []types.Tag, key string) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}
