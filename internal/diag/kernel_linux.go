//go:build linux

package diag

import "golang.org/x/sys/unix"

func kernelInfo() map[string]interface{} {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return map[string]interface{}{"kernel_error": err.Error()}
	}
	return map[string]interface{}{
		"kernel_release": unix.ByteSliceToString(uts.Release[:]),
		"kernel_version": unix.ByteSliceToString(uts.Version[:]),
		"machine":        unix.ByteSliceToString(uts.Machine[:]),
	}
}
