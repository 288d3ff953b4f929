package topology

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/pkg/errors"
)

// DescribeInstanceTypesAPI is the subset of the EC2 client used here.
type DescribeInstanceTypesAPI interface {
	DescribeInstanceTypes(ctx context.Context, in *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
}

// EC2 reports the default vCPU layout of an EC2 instance type, for planning
// a run before the target host is available.
type EC2 struct {
	Client       DescribeInstanceTypesAPI
	InstanceType string

	mu   sync.Mutex
	info *CPUInfo
}

// Info implements Provider. The first successful lookup is cached.
func (e *EC2) Info(ctx context.Context) (*CPUInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info != nil {
		info := *e.info
		return &info, nil
	}

	out, err := e.Client.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(e.InstanceType)},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "describe instance type %s", e.InstanceType)
	}
	if len(out.InstanceTypes) == 0 || out.InstanceTypes[0].VCpuInfo == nil {
		return nil, errors.Errorf("instance type %s has no vCPU info", e.InstanceType)
	}

	vcpu := out.InstanceTypes[0].VCpuInfo
	info := &CPUInfo{
		PhysicalCores:  int(aws.ToInt32(vcpu.DefaultCores)),
		LogicalCores:   int(aws.ToInt32(vcpu.DefaultVCpus)),
		ThreadsPerCore: int(aws.ToInt32(vcpu.DefaultThreadsPerCore)),
		Sockets:        1,
		Brand:          e.InstanceType,
		Source:         "ec2",
	}
	if info.PhysicalCores < 1 {
		return nil, errors.Errorf("instance type %s reports no cores", e.InstanceType)
	}
	info.ThreadsPerCore = max(1, info.ThreadsPerCore)
	e.info = info
	cp := *info
	return &cp, nil
}
