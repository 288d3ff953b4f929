package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultLibDirs are searched for preloaded runtime libraries.
var DefaultLibDirs = []string{
	"/usr/local/lib",
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib64",
	"/usr/lib",
}

// jemalloc settings commonly recommended for inference on Xeon.
const jemallocConf = "oversize_threshold:1,background_thread:true,metadata_thp:auto,dirty_decay_ms:9000000000,muzzy_decay_ms:9000000000"

// FindLibrary returns the first file in dirs named lib or lib.<suffix>.
func FindLibrary(dirs []string, lib string) (string, error) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		exact := filepath.Join(dir, lib)
		if _, err := os.Stat(exact); err == nil {
			return exact, nil
		}
		matches, _ := filepath.Glob(exact + ".*")
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("%s not found in %s", lib, strings.Join(dirs, ":"))
}

// CoreList renders the cores of instance i in taskset list form.
func CoreList(instance, cores int) string {
	start := instance * cores
	if cores == 1 {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, start+cores-1)
}

// Environment returns the variables that apply cfg to instance i. base is
// the inherited environment; an inherited LD_PRELOAD is kept after the
// preloaded runtimes.
func Environment(cfg LaunchConfig, instance int, libDirs []string, base []string) ([]string, error) {
	cores := strconv.Itoa(cfg.CoresPerInstance)
	env := map[string]string{
		"OMP_NUM_THREADS":  cores,
		"MKL_NUM_THREADS":  cores,
		"CPUTUNE_INSTANCE": strconv.Itoa(instance),
		"CPUTUNE_CORES":    CoreList(instance, cfg.CoresPerInstance),
	}

	var preload []string
	switch cfg.OpenMP {
	case "iomp":
		lib, err := FindLibrary(libDirs, "libiomp5.so")
		if err != nil {
			return nil, err
		}
		preload = append(preload, lib)
		env["KMP_AFFINITY"] = "granularity=fine,compact,1,0"
		env["KMP_BLOCKTIME"] = "1"
	default:
		env["OMP_PROC_BIND"] = "close"
		env["OMP_PLACES"] = "cores"
	}

	switch cfg.Allocator {
	case "tcmalloc":
		lib, err := FindLibrary(libDirs, "libtcmalloc.so")
		if err != nil {
			return nil, err
		}
		preload = append(preload, lib)
	case "jemalloc":
		lib, err := FindLibrary(libDirs, "libjemalloc.so")
		if err != nil {
			return nil, err
		}
		preload = append(preload, lib)
		conf := jemallocConf
		if cfg.HugePages {
			conf += ",thp:always"
		}
		env["MALLOC_CONF"] = conf
	}

	if cfg.HugePages {
		env["THP_MEM_ALLOC_ENABLE"] = "1"
		if cfg.Allocator == "default" {
			env["GLIBC_TUNABLES"] = "glibc.malloc.hugetlb=1"
		}
	}

	for _, k := range cfg.extraKeys() {
		env["CPUTUNE_"+strings.ToUpper(k)] = fmt.Sprint(cfg.Extra[k])
	}

	out := make([]string, 0, len(base)+len(env)+1)
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		if k == "LD_PRELOAD" {
			if v != "" {
				preload = append(preload, v)
			}
			continue
		}
		if _, overridden := env[k]; overridden {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	if len(preload) > 0 {
		out = append(out, "LD_PRELOAD="+strings.Join(preload, ":"))
	}
	return out, nil
}
