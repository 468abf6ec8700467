package ec2

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yarrow/pkg/config"
	"yarrow/pkg/constants"
	"yarrow/pkg/interfaces"
)

type fakeEC2 struct {
	pages       []*ec2.DescribeInstancesOutput
	describeIn  []*ec2.DescribeInstancesInput
	describeErr error

	runIn     []*ec2.RunInstancesInput
	launched  int
	tagIn     []*ec2.CreateTagsInput
	tagErrFor string

	terminateIn []*ec2.TerminateInstancesInput
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.describeIn = append(f.describeIn, params)
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	page := 0
	if params.NextToken != nil {
		fmt.Sscanf(*params.NextToken, "page-%d", &page)
	}
	return f.pages[page], nil
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.runIn = append(f.runIn, params)
	out := &ec2.RunInstancesOutput{ReservationId: aws.String("r-123")}
	for i := 0; i < f.launched; i++ {
		out.Instances = append(out.Instances, types.Instance{InstanceId: aws.String(fmt.Sprintf("i-%d", i+1))})
	}
	return out, nil
}

func (f *fakeEC2) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.tagIn = append(f.tagIn, params)
	if params.Resources[0] == f.tagErrFor {
		return nil, errors.New("throttled")
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminateIn = append(f.terminateIn, params)
	return &ec2.TerminateInstancesOutput{TerminatingInstances: []types.InstanceStateChange{{
		InstanceId:   aws.String(params.InstanceIds[0]),
		CurrentState: &types.InstanceState{Name: types.InstanceStateNameShuttingDown},
	}}}, nil
}

func instance(id, name string, state types.InstanceStateName) types.Instance {
	inst := types.Instance{
		InstanceId: aws.String(id),
		State:      &types.InstanceState{Name: state},
	}
	if name != "" {
		inst.Tags = []types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}}
	}
	return inst
}

func TestClient_ListInstances(t *testing.T) {
	api := &fakeEC2{pages: []*ec2.DescribeInstancesOutput{
		{
			Reservations: []types.Reservation{{Instances: []types.Instance{
				instance("i-1", "runner-1", types.InstanceStateNameRunning),
				instance("i-2", "runner-2", types.InstanceStateNameStopped),
			}}},
			NextToken: aws.String("page-1"),
		},
		{
			Reservations: []types.Reservation{{Instances: []types.Instance{
				instance("i-3", "runner-3", types.InstanceStateNamePending),
				instance("i-4", "runner-4", types.InstanceStateNameTerminated),
				instance("i-5", "", types.InstanceStateNameRunning),
				instance("i-6", "runner-6", types.InstanceStateNameShuttingDown),
			}}},
		},
	}}
	c := newClient(api, config.EC2Config{LaunchTemplate: "runner-vm-template"}, "runner-")

	views, err := c.ListInstances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []*interfaces.InstanceView{
		{Name: "runner-1", Status: "RUNNING"},
		{Name: "runner-2", Status: "TERMINATED"},
		{Name: "runner-3", Status: "PROVISIONING"},
		{Name: "runner-6", Status: "STOPPING"},
	}, views)

	require.Len(t, api.describeIn, 2)
	filter := api.describeIn[0].Filters[0]
	assert.Equal(t, "tag:Name", aws.ToString(filter.Name))
	assert.Equal(t, []string{"runner-*"}, filter.Values)

	_, err = c.DeleteInstance(context.Background(), "runner-2")
	require.NoError(t, err)
	require.Len(t, api.terminateIn, 1)
	assert.Equal(t, []string{"i-2"}, api.terminateIn[0].InstanceIds)
}

func TestClient_ListInstancesError(t *testing.T) {
	api := &fakeEC2{describeErr: errors.New("UnauthorizedOperation")}
	c := newClient(api, config.EC2Config{}, "runner-")

	_, err := c.ListInstances(context.Background())
	assert.ErrorIs(t, err, api.describeErr)
}

func TestClient_BulkCreate(t *testing.T) {
	api := &fakeEC2{launched: 2, tagErrFor: "i-2"}
	c := newClient(api, config.EC2Config{LaunchTemplate: "runner-vm-template"}, "runner-")

	op, err := c.BulkCreate(context.Background(), &interfaces.BulkCreateRequest{
		Count:         3,
		MinCount:      1,
		NamePattern:   "runner-#",
		Names:         []string{"runner-1", "runner-2", "runner-3"},
		StartupScript: "#!/bin/bash\n",
		Labels:        map[string]string{"session": "s1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "r-123", op.ID)
	assert.NotEmpty(t, op.Error)

	require.Len(t, api.runIn, 1)
	in := api.runIn[0]
	assert.Equal(t, int32(1), aws.ToInt32(in.MinCount))
	assert.Equal(t, int32(3), aws.ToInt32(in.MaxCount))
	assert.Equal(t, "runner-vm-template", aws.ToString(in.LaunchTemplate.LaunchTemplateName))
	userData, err := base64.StdEncoding.DecodeString(aws.ToString(in.UserData))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\n", string(userData))
	assert.Equal(t, types.ShutdownBehaviorStop, in.InstanceInitiatedShutdownBehavior)
	assert.Equal(t, "runner-", tagValue(in.TagSpecifications[0].Tags, fleetTag))
	assert.Equal(t, "s1", tagValue(in.TagSpecifications[0].Tags, "session"))

	require.Len(t, api.tagIn, 2)
	assert.Equal(t, "runner-1", tagValue(api.tagIn[0].Tags, "Name"))
	assert.Equal(t, []string{"i-1"}, api.tagIn[0].Resources)

	// only successfully tagged instances are addressable
	_, err = c.DeleteInstance(context.Background(), "runner-1")
	assert.NoError(t, err)
	_, err = c.DeleteInstance(context.Background(), "runner-2")
	assert.Error(t, err)
}

func TestClient_DeleteUnknownInstance(t *testing.T) {
	c := newClient(&fakeEC2{}, config.EC2Config{}, "runner-")

	_, err := c.DeleteInstance(context.Background(), "runner-9")
	assert.Error(t, err)
}

func TestMapState(t *testing.T) {
	tests := []struct {
		state  types.InstanceStateName
		want   constants.WorkerStatus
		wantOK bool
	}{
		{types.InstanceStateNamePending, constants.WorkerStatusProvisioning, true},
		{types.InstanceStateNameRunning, constants.WorkerStatusRunning, true},
		{types.InstanceStateNameStopping, constants.WorkerStatusStopping, true},
		{types.InstanceStateNameShuttingDown, constants.WorkerStatusStopping, true},
		{types.InstanceStateNameStopped, constants.WorkerStatusTerminated, true},
		{types.InstanceStateNameTerminated, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			got, ok := mapState(&types.InstanceState{Name: tt.state})
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := mapState(nil)
	assert.False(t, ok)
}
