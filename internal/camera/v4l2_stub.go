//go:build !linux

package camera

import "fmt"

// newV4L2Driver はLinux以外ではエラーを返す
func newV4L2Driver(_ DriverConfig) (Driver, error) {
	return nil, fmt.Errorf("V4L2はLinuxでのみ利用できます")
}
