//go:build linux

package proctitle

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxProcNameMax is the comm length the kernel keeps, without the NUL.
const linuxProcNameMax = 15

// Set applies title to os.Args[0] and, truncated, to the thread name shown by
// ps and top.
func Set(title string) error {
	title = Normalize(title)
	if title == "" {
		return errors.New("empty process title")
	}
	if len(os.Args) > 0 {
		os.Args[0] = title
	}

	b := make([]byte, linuxProcNameMax+1)
	copy(b, title)
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0)
}
