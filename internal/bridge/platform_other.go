//go:build !unix

package bridge

import "runtime"

func osRelease() string {
	return runtime.GOARCH
}
