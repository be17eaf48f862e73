package utils

import (
	"unsafe"
)

// BytesToString returns a string sharing b's memory. The result must not
// outlive b or be kept after b is modified.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

func RouteKey(method, path string) string {
	return method + " " + path
}
