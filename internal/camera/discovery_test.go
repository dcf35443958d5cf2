package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractDeviceNumber(t *testing.T) {
	testCases := []struct {
		device   string
		expected int
	}{
		{"/dev/video0", 0},
		{"/dev/video1", 1},
		{"/dev/video10", 10},
		{"/dev/video99", 99},
		{"/dev/invalid", 0},
		{"invalid", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.device, func(t *testing.T) {
			result := extractDeviceNumber(tc.device)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d for device %s", tc.expected, result, tc.device)
			}
		})
	}
}

func TestScanVideoDevices(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video10", "video2", "video0"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	devices, err := scanVideoDevices(context.Background(), filepath.Join(dir, "video*"))
	if err != nil {
		t.Fatalf("scanVideoDevices failed: %v", err)
	}

	// 文字列順ではなく番号順に並ぶ
	want := []string{"video0", "video2", "video10"}
	if len(devices) != len(want) {
		t.Fatalf("Expected %d devices, got %v", len(want), devices)
	}
	for i, name := range want {
		if filepath.Base(devices[i]) != name {
			t.Errorf("devices[%d] = %s, want %s", i, devices[i], name)
		}
	}
}

func TestScanVideoDevices_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "video0"), nil, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := scanVideoDevices(ctx, filepath.Join(dir, "video*")); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestDeviceName(t *testing.T) {
	sysfs := t.TempDir()
	orig := sysfsVideoDir
	sysfsVideoDir = sysfs
	defer func() { sysfsVideoDir = orig }()

	if err := os.MkdirAll(filepath.Join(sysfs, "video1"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sysfs, "video1", "name"), []byte("HD Pro Webcam C920\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if got := deviceName("/dev/video1"); got != "HD Pro Webcam C920" {
		t.Errorf("Expected sysfs name, got %q", got)
	}

	// sysfsに無ければ番号から生成する
	if got := deviceName("/dev/video3"); got != "カメラ 3" {
		t.Errorf("Expected fallback name, got %q", got)
	}
}
