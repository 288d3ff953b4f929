// Package topology reports the CPU layout a tuning run partitions into
// instances and cores.
package topology

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const cpuInfoPath = "/proc/cpuinfo"

// CPUInfo describes the host processors.
type CPUInfo struct {
	PhysicalCores  int    `json:"physical_cores"`
	LogicalCores   int    `json:"logical_cores"`
	ThreadsPerCore int    `json:"threads_per_core"`
	Sockets        int    `json:"sockets"`
	Vendor         string `json:"vendor"`
	Brand          string `json:"brand"`
	Source         string `json:"source"`
}

// Provider returns CPU information for a tuning run.
type Provider interface {
	Info(ctx context.Context) (*CPUInfo, error)
}

// Static is a fixed CPU description, used for dry runs and tests.
type Static CPUInfo

// Info implements Provider.
func (s Static) Info(context.Context) (*CPUInfo, error) {
	info := CPUInfo(s)
	if info.PhysicalCores < 1 {
		return nil, errors.New("static topology has no physical cores")
	}
	if info.Source == "" {
		info.Source = "static"
	}
	return &info, nil
}

// Local detects the CPUs of the current host once and caches the result.
type Local struct {
	// Path overrides /proc/cpuinfo.
	Path string

	once sync.Once
	info *CPUInfo
	err  error
}

// Info implements Provider.
func (l *Local) Info(context.Context) (*CPUInfo, error) {
	l.once.Do(func() {
		path := l.Path
		if path == "" {
			path = cpuInfoPath
		}
		l.info, l.err = Detect(path)
	})
	if l.err != nil {
		return nil, l.err
	}
	info := *l.info
	return &info, nil
}

// Detect builds a CPUInfo from the given cpuinfo file, falling back to
// CPUID and then to the Go runtime when the file is missing or incomplete.
func Detect(path string) (*CPUInfo, error) {
	info := &CPUInfo{
		Vendor: cpuid.CPU.VendorString,
		Brand:  cpuid.CPU.BrandName,
	}

	data, err := os.ReadFile(path)
	if err == nil {
		parsed, perr := ParseProcCPUInfo(string(data))
		if perr == nil {
			parsed.Vendor = firstNonEmpty(parsed.Vendor, info.Vendor)
			parsed.Brand = firstNonEmpty(parsed.Brand, info.Brand)
			return parsed, nil
		}
		klog.V(2).InfoS("Falling back to CPUID", "path", path, "err", perr)
	} else {
		klog.V(2).InfoS("Could not read cpuinfo, falling back to CPUID", "path", path, "err", err)
	}

	if cpuid.CPU.PhysicalCores > 0 {
		info.PhysicalCores = cpuid.CPU.PhysicalCores
		info.LogicalCores = cpuid.CPU.LogicalCores
		info.ThreadsPerCore = max(1, cpuid.CPU.ThreadsPerCore)
		info.Sockets = 1
		info.Source = "cpuid"
		return info, nil
	}

	n := runtime.NumCPU()
	if n < 1 {
		return nil, errors.New("could not determine CPU count")
	}
	info.PhysicalCores = n
	info.LogicalCores = n
	info.ThreadsPerCore = 1
	info.Sockets = 1
	info.Source = "runtime"
	return info, nil
}

// ParseProcCPUInfo counts distinct (physical id, core id) pairs as physical
// cores and distinct physical ids as sockets.
func ParseProcCPUInfo(content string) (*CPUInfo, error) {
	info := &CPUInfo{Source: "procfs"}
	cores := make(map[[2]int]struct{})
	sockets := make(map[int]struct{})
	physID, coreID := -1, -1

	flush := func() {
		if physID >= 0 && coreID >= 0 {
			cores[[2]int{physID, coreID}] = struct{}{}
		}
		if physID >= 0 {
			sockets[physID] = struct{}{}
		}
		physID, coreID = -1, -1
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "processor":
			info.LogicalCores++
		case "physical id":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid physical id %q", value)
			}
			physID = n
		case "core id":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid core id %q", value)
			}
			coreID = n
		case "vendor_id":
			info.Vendor = value
		case "model name":
			info.Brand = value
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan cpuinfo")
	}

	if info.LogicalCores == 0 {
		return nil, errors.New("no processor entries in cpuinfo")
	}
	if len(cores) == 0 {
		return nil, errors.New("cpuinfo has no core topology")
	}
	info.PhysicalCores = len(cores)
	info.Sockets = len(sockets)
	info.ThreadsPerCore = max(1, info.LogicalCores/info.PhysicalCores)
	return info, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
