package driver

import "runtime"

func availableParallelism() int {
	return runtime.GOMAXPROCS(0)
}
