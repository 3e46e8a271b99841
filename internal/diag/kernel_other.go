//go:build !linux

package diag

import "runtime"

func kernelInfo() map[string]interface{} {
	return map[string]interface{}{"os": runtime.GOOS}
}
