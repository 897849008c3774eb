package collector

import (
	"strings"
	"syscall"
	"time"

	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/util"
)

// pseudoFS lists filesystem types to skip (not real block-backed filesystems).
var pseudoFS = map[string]bool{
	"sysfs": true, "proc": true, "devtmpfs": true, "tmpfs": true,
	"cgroup": true, "cgroup2": true, "debugfs": true, "tracefs": true,
	"securityfs": true, "hugetlbfs": true, "mqueue": true, "fusectl": true,
	"configfs": true, "pstore": true, "bpf": true, "ramfs": true,
	"rpc_pipefs": true, "nsfs": true, "autofs": true, "efivarfs": true,
	"squashfs": true, "iso9660": true, "devpts": true, "overlay": true,
}

// MountReader reads /proc/mounts and statfs's every real mount, producing
// the pressure readings the engine's rate estimator and PID controller
// consume each tick.
type MountReader struct{}

// Read returns one PressureReading per real, distinct-device mount.
func (MountReader) Read() ([]model.PressureReading, error) {
	lines, err := util.ReadFileLines("/proc/mounts")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool) // deduplicate by device
	var readings []model.PressureReading
	now := time.Now().UnixNano()

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		dev := fields[0]
		mountPoint := fields[1]
		fsType := fields[2]

		if pseudoFS[fsType] {
			continue
		}
		if !strings.HasPrefix(dev, "/") {
			continue
		}
		if seen[dev] {
			continue
		}
		seen[dev] = true

		var stat syscall.Statfs_t
		if err := syscall.Statfs(mountPoint, &stat); err != nil {
			continue
		}

		bsize := uint64(stat.Bsize)
		readings = append(readings, model.PressureReading{
			Mount:      mountPoint,
			FreeBytes:  stat.Bavail * bsize,
			TotalBytes: stat.Blocks * bsize,
			Timestamp:  now,
		})
	}

	return readings, nil
}
