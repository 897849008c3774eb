package collector

import "testing"

func TestMountReaderReturnsRootMount(t *testing.T) {
	readings, err := MountReader{}.Read()
	if err != nil {
		t.Fatalf("unexpected error reading /proc/mounts: %v", err)
	}
	var sawRoot bool
	for _, r := range readings {
		if r.Mount == "/" {
			sawRoot = true
		}
		if r.TotalBytes == 0 {
			t.Fatalf("mount %s reported zero total bytes", r.Mount)
		}
	}
	if !sawRoot {
		t.Skip("no root mount visible in this sandbox's /proc/mounts")
	}
}
