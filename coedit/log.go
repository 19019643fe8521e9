package coedit

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `coedit` package:
// Info:
//     lifecycle events (lobby created/joined/left, watcher start/stop) and
//     abnormal behavior. Silent per tick on normal operation.
// Warning:
//     a dropped or aborted protocol operation. The tick always continues.
// V(1):
//     key protocol events with peer ids that can be used to filter
// V(2):
//     per packet and per action trace

const LogLevelInfo = 1
const LogLevelDebug = 2

type LogFunction func(string, ...any)

func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("%s %s", tag, m))
		}
	}
}
