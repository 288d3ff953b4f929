package topology

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Two sockets, two cores each, two threads per core.
const sampleCPUInfo = `processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) Platinum 8375C CPU @ 2.90GHz
physical id	: 0
core id		: 0

processor	: 1
physical id	: 0
core id		: 1

processor	: 2
physical id	: 1
core id		: 0

processor	: 3
physical id	: 1
core id		: 1

processor	: 4
physical id	: 0
core id		: 0

processor	: 5
physical id	: 0
core id		: 1

processor	: 6
physical id	: 1
core id		: 0

processor	: 7
physical id	: 1
core id		: 1
`

func TestParseProcCPUInfo(t *testing.T) {
	info, err := ParseProcCPUInfo(sampleCPUInfo)
	if err != nil {
		t.Fatalf("ParseProcCPUInfo: %v", err)
	}
	if info.PhysicalCores != 4 {
		t.Errorf("PhysicalCores = %d, want 4", info.PhysicalCores)
	}
	if info.LogicalCores != 8 {
		t.Errorf("LogicalCores = %d, want 8", info.LogicalCores)
	}
	if info.ThreadsPerCore != 2 {
		t.Errorf("ThreadsPerCore = %d, want 2", info.ThreadsPerCore)
	}
	if info.Sockets != 2 {
		t.Errorf("Sockets = %d, want 2", info.Sockets)
	}
	if info.Vendor != "GenuineIntel" {
		t.Errorf("Vendor = %q", info.Vendor)
	}
}

func TestParseProcCPUInfo_NoTopology(t *testing.T) {
	if _, err := ParseProcCPUInfo("processor : 0\nprocessor : 1\n"); err == nil {
		t.Error("expected error without core ids")
	}
	if _, err := ParseProcCPUInfo(""); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestLocal_UsesFileAndCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpuinfo")
	if err := os.WriteFile(path, []byte(sampleCPUInfo), 0o644); err != nil {
		t.Fatal(err)
	}
	l := &Local{Path: path}
	info, err := l.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.PhysicalCores != 4 || info.Source != "procfs" {
		t.Errorf("got %+v", info)
	}

	info.PhysicalCores = 99
	again, _ := l.Info(context.Background())
	if again.PhysicalCores != 4 {
		t.Error("Info must return a copy")
	}
}

func TestDetect_FallsBackWhenFileMissing(t *testing.T) {
	info, err := Detect(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if info.PhysicalCores < 1 {
		t.Errorf("PhysicalCores = %d", info.PhysicalCores)
	}
	if info.Source != "cpuid" && info.Source != "runtime" {
		t.Errorf("Source = %q", info.Source)
	}
}

func TestStatic(t *testing.T) {
	info, err := Static{PhysicalCores: 16}.Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Source != "static" {
		t.Errorf("Source = %q", info.Source)
	}
	if _, err := (Static{}).Info(context.Background()); err == nil {
		t.Error("expected error for zero cores")
	}
}

type fakeEC2 struct {
	calls int
	out   *ec2.DescribeInstanceTypesOutput
	err   error
}

func (f *fakeEC2) DescribeInstanceTypes(_ context.Context, in *ec2.DescribeInstanceTypesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error) {
	f.calls++
	return f.out, f.err
}

func TestEC2_Info(t *testing.T) {
	api := &fakeEC2{out: &ec2.DescribeInstanceTypesOutput{
		InstanceTypes: []ec2types.InstanceTypeInfo{{
			InstanceType: ec2types.InstanceType("c6i.8xlarge"),
			VCpuInfo: &ec2types.VCpuInfo{
				DefaultCores:          aws.Int32(16),
				DefaultVCpus:          aws.Int32(32),
				DefaultThreadsPerCore: aws.Int32(2),
			},
		}},
	}}
	p := &EC2{Client: api, InstanceType: "c6i.8xlarge"}

	for i := 0; i < 2; i++ {
		info, err := p.Info(context.Background())
		if err != nil {
			t.Fatalf("Info: %v", err)
		}
		if info.PhysicalCores != 16 || info.LogicalCores != 32 || info.ThreadsPerCore != 2 {
			t.Errorf("got %+v", info)
		}
	}
	if api.calls != 1 {
		t.Errorf("DescribeInstanceTypes called %d times, want 1", api.calls)
	}
}

func TestEC2_Errors(t *testing.T) {
	p := &EC2{Client: &fakeEC2{err: errors.New("denied")}, InstanceType: "c6i.large"}
	if _, err := p.Info(context.Background()); err == nil {
		t.Error("expected API error")
	}
	p = &EC2{Client: &fakeEC2{out: &ec2.DescribeInstanceTypesOutput{}}, InstanceType: "nope"}
	if _, err := p.Info(context.Background()); err == nil {
		t.Error("expected error for unknown type")
	}
}
