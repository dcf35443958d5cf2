package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDriverFactory_GetSupportedTypes(t *testing.T) {
	factory := NewDriverFactory()

	types := factory.GetSupportedTypes()
	if len(types) != 2 {
		t.Fatalf("Expected 2 driver types, got %d", len(types))
	}
	if types[0] != DriverMock || types[1] != DriverV4L2 {
		t.Errorf("Expected [mock v4l2], got %v", types)
	}
}

func TestDriverFactory_CreateUnsupported(t *testing.T) {
	factory := NewDriverFactory()

	if _, err := factory.CreateDriver(DriverType("gphoto"), DriverConfig{}); err == nil {
		t.Error("Expected error for unsupported driver type")
	}
}

func TestDriverFactory_Register(t *testing.T) {
	factory := NewDriverFactory()
	wantErr := errors.New("custom")

	factory.Register(DriverType("custom"), func(DriverConfig) (Driver, error) {
		return nil, wantErr
	})

	if _, err := factory.CreateDriver(DriverType("custom"), DriverConfig{}); !errors.Is(err, wantErr) {
		t.Errorf("Expected registered creator to be used, got %v", err)
	}
	if len(factory.GetSupportedTypes()) != 3 {
		t.Errorf("Expected 3 driver types after register, got %v", factory.GetSupportedTypes())
	}
}

func TestDriverFactory_CreateMock(t *testing.T) {
	ctx := context.Background()
	factory := NewDriverFactory()

	driver, err := factory.CreateDriver(DriverMock, DriverConfig{Device: "/dev/video3", Width: 32, Height: 24, FPS: 50})
	if err != nil {
		t.Fatalf("CreateDriver failed: %v", err)
	}

	infos, err := driver.ListCameras(ctx)
	if err != nil {
		t.Fatalf("ListCameras failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Device != "/dev/video3" {
		t.Fatalf("Expected single /dev/video3 device, got %+v", infos)
	}

	cam, err := driver.Open(ctx, infos[0])
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	start := time.Now()
	frame, err := cam.CaptureImage(ctx)
	if err != nil {
		t.Fatalf("CaptureImage failed: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Expected capture to honour the configured frame rate")
	}
	if frame.Format != FormatMJPEG || frame.Width != 32 || frame.Height != 24 {
		t.Errorf("Unexpected frame: format=%s %dx%d", frame.Format, frame.Width, frame.Height)
	}
	if len(frame.Data) < 2 || frame.Data[0] != 0xff || frame.Data[1] != 0xd8 {
		t.Error("Expected JPEG SOI marker")
	}
}

func TestDriverFactory_CreateMockDefaultDevice(t *testing.T) {
	driver, err := NewDriverFactory().CreateDriver(DriverMock, DriverConfig{})
	if err != nil {
		t.Fatalf("CreateDriver failed: %v", err)
	}

	infos, err := driver.ListCameras(context.Background())
	if err != nil {
		t.Fatalf("ListCameras failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Device != "/dev/video0" {
		t.Errorf("Expected default /dev/video0, got %+v", infos)
	}
}

func TestMockCamera_DoubleClose(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver(MockConfig{Devices: []string{"/dev/video0"}})

	cam, err := driver.Open(ctx, DeviceInfo{Device: "/dev/video0"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := cam.Close(); err == nil {
		t.Error("Expected error on double close")
	}
	if _, err := cam.CaptureImage(ctx); err == nil {
		t.Error("Expected capture on closed camera to fail")
	}

	if n := driver.OpenHandles(); n != 0 {
		t.Errorf("Expected no open handles, got %d", n)
	}
}
