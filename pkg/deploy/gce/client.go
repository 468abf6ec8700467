// Package gce drives worker fleets on Google Compute Engine instances.
package gce

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/proto"

	"yarrow/pkg/config"
	"yarrow/pkg/interfaces"
	"yarrow/pkg/logger"
)

// StartupScriptKey is the metadata item GCE runs on boot
const StartupScriptKey = "startup-script"

// instancesAPI is the subset of the Compute instances service used by Client
type instancesAPI interface {
	List(ctx context.Context, req *computepb.ListInstancesRequest) ([]*computepb.Instance, error)
	BulkInsert(ctx context.Context, req *computepb.BulkInsertInstanceRequest) (*interfaces.Operation, error)
	Delete(ctx context.Context, req *computepb.DeleteInstanceRequest) (*interfaces.Operation, error)
	Close() error
}

// Client implements interfaces.CloudFleetClient on Compute Engine
type Client struct {
	api        instancesAPI
	cfg        config.GCEConfig
	namePrefix string
}

// NewClient creates a Compute Engine client using application default credentials
func NewClient(ctx context.Context, cfg config.GCEConfig, namePrefix string, opts ...option.ClientOption) (*Client, error) {
	if cfg.Project == "" || cfg.Zone == "" {
		return nil, fmt.Errorf("gce project and zone are required")
	}

	rest, err := compute.NewInstancesRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}

	logger.InfoCtx(ctx, "GCE client initialized: project=%s, zone=%s, template=%s", cfg.Project, cfg.Zone, cfg.InstanceTemplate)
	return newClient(&restInstances{client: rest}, cfg, namePrefix), nil
}

func newClient(api instancesAPI, cfg config.GCEConfig, namePrefix string) *Client {
	return &Client{api: api, cfg: cfg, namePrefix: namePrefix}
}

// ListInstances lists the instances of the zone whose names start with the fleet prefix
func (c *Client) ListInstances(ctx context.Context) ([]*interfaces.InstanceView, error) {
	instances, err := c.api.List(ctx, c.buildListRequest())
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	views := make([]*interfaces.InstanceView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, &interfaces.InstanceView{
			Name:   inst.GetName(),
			Status: inst.GetStatus(),
		})
	}
	return views, nil
}

// BulkCreate issues one bulkInsert request for the whole fleet
func (c *Client) BulkCreate(ctx context.Context, req *interfaces.BulkCreateRequest) (*interfaces.Operation, error) {
	op, err := c.api.BulkInsert(ctx, c.buildBulkInsertRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to bulk insert instances: %w", err)
	}
	return op, nil
}

// DeleteInstance requests deletion of the named instance
func (c *Client) DeleteInstance(ctx context.Context, name string) (*interfaces.Operation, error) {
	op, err := c.api.Delete(ctx, &computepb.DeleteInstanceRequest{
		Project:  c.cfg.Project,
		Zone:     c.cfg.Zone,
		Instance: name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete instance %s: %w", name, err)
	}
	return op, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) buildListRequest() *computepb.ListInstancesRequest {
	req := &computepb.ListInstancesRequest{
		Project: c.cfg.Project,
		Zone:    c.cfg.Zone,
	}
	if c.namePrefix != "" {
		req.Filter = proto.String(fmt.Sprintf("name eq %s.*", regexp.QuoteMeta(c.namePrefix)))
	}
	return req
}

func (c *Client) buildBulkInsertRequest(req *interfaces.BulkCreateRequest) *computepb.BulkInsertInstanceRequest {
	props := &computepb.InstanceProperties{
		Disks: []*computepb.AttachedDisk{{
			AutoDelete: proto.Bool(true),
			Boot:       proto.Bool(true),
			DeviceName: proto.String(c.cfg.DiskName),
			InitializeParams: &computepb.AttachedDiskInitializeParams{
				DiskSizeGb:  proto.Int64(c.cfg.DiskSizeGB),
				DiskType:    proto.String(c.cfg.DiskType),
				SourceImage: proto.String(c.cfg.DiskImage),
			},
			Mode: proto.String(computepb.AttachedDisk_READ_WRITE.String()),
			Type: proto.String(computepb.AttachedDisk_PERSISTENT.String()),
		}},
		Metadata: &computepb.Metadata{
			Items: []*computepb.Items{{
				Key:   proto.String(StartupScriptKey),
				Value: proto.String(req.StartupScript),
			}},
		},
	}
	if len(req.Labels) > 0 {
		props.Labels = req.Labels
	}

	return &computepb.BulkInsertInstanceRequest{
		Project: c.cfg.Project,
		Zone:    c.cfg.Zone,
		BulkInsertInstanceResourceResource: &computepb.BulkInsertInstanceResource{
			Count:                  proto.Int64(int64(req.Count)),
			MinCount:               proto.Int64(int64(req.MinCount)),
			NamePattern:            proto.String(req.NamePattern),
			SourceInstanceTemplate: proto.String(c.sourceTemplate()),
			InstanceProperties:     props,
		},
	}
}

// sourceTemplate expands a bare template name to its project-relative URL
func (c *Client) sourceTemplate() string {
	if strings.Contains(c.cfg.InstanceTemplate, "/") {
		return c.cfg.InstanceTemplate
	}
	return fmt.Sprintf("projects/%s/global/instanceTemplates/%s", c.cfg.Project, c.cfg.InstanceTemplate)
}

// restInstances adapts the generated REST client to instancesAPI
type restInstances struct {
	client *compute.InstancesClient
}

func (r *restInstances) List(ctx context.Context, req *computepb.ListInstancesRequest) ([]*computepb.Instance, error) {
	var out []*computepb.Instance
	it := r.client.List(ctx, req)
	for {
		inst, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
}

func (r *restInstances) BulkInsert(ctx context.Context, req *computepb.BulkInsertInstanceRequest) (*interfaces.Operation, error) {
	op, err := r.client.BulkInsert(ctx, req)
	if err != nil {
		return nil, err
	}
	return toOperation("bulkCreate", req.GetBulkInsertInstanceResourceResource().GetNamePattern(), op.Proto()), nil
}

func (r *restInstances) Delete(ctx context.Context, req *computepb.DeleteInstanceRequest) (*interfaces.Operation, error) {
	op, err := r.client.Delete(ctx, req)
	if err != nil {
		return nil, err
	}
	return toOperation("delete", req.GetInstance(), op.Proto()), nil
}

func (r *restInstances) Close() error {
	return r.client.Close()
}

// toOperation converts a Compute operation message
func toOperation(kind, target string, op *computepb.Operation) *interfaces.Operation {
	out := &interfaces.Operation{
		ID:        op.GetName(),
		Kind:      kind,
		Target:    target,
		Done:      op.GetStatus() == computepb.Operation_DONE,
		StartedAt: time.Now(),
	}
	var msgs []string
	for _, e := range op.GetError().GetErrors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.GetCode(), e.GetMessage()))
	}
	out.Error = strings.Join(msgs, "; ")
	return out
}
