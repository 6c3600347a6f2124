//go:build !linux

package system

import "runtime"

func getOperatingSystemName() string {
	return runtime.GOOS
}
