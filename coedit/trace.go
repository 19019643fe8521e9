package coedit

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

var ErrHandlerPanic = errors.New("Inbound handler panicked.")

// Runs the handler for one inbound message from `sender`. A panic is logged
// with its stack and returned as `ErrHandlerPanic`, so a bad packet never
// aborts the tick.
func RecoverInbound(sender PeerId, messageName string, do func() error) (returnErr error) {
	defer func() {
		if r := recover(); r != nil {
			glog.Warningf("[d]%s %s<- panic = %s\n", messageName, sender, ErrorJson(sender, messageName, r, debug.Stack()))
			returnErr = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return do()
}

func ErrorJson(sender PeerId, messageName string, err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			stackLines = append(stackLines, line)
		}
	}
	errorJson, _ := json.Marshal(map[string]any{
		"sender":  sender,
		"message": messageName,
		"error":   fmt.Sprintf("%T=%s", err, err),
		"stack":   stackLines,
	})
	return string(errorJson)
}

func Trace(tag string, do func()) {
	trace(tag, func() string {
		do()
		return ""
	})
}

func TraceWithReturnError[R any](tag string, do func() (R, error)) (result R, returnErr error) {
	trace(tag, func() string {
		result, returnErr = do()
		if returnErr != nil {
			return fmt.Sprintf(" err = %s", returnErr)
		}
		return fmt.Sprintf(" = %v", result)
	})
	return
}

func trace(tag string, do func() string) {
	start := time.Now()
	glog.Infof("[%-8s]%s (%d)\n", "start", tag, start.UnixMilli())
	doTag := do()
	end := time.Now()
	millis := float32(end.Sub(start)) / float32(time.Millisecond)
	glog.Infof("[%-8s]%s (%.2fms) (%d)%s\n", "end", tag, millis, end.UnixMilli(), doTag)
}
