package plan

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"
)

// Builtin body names accepted in plan files.
const (
	BodySleep     = "sleep"
	BodyChecksum  = "checksum"
	BodyTransform = "transform"
	BodyFailTimes = "fail-n-times"
)

// BodyNames returns the builtin body names, for help text.
func BodyNames() []string {
	return []string{BodySleep, BodyChecksum, BodyTransform, BodyFailTimes}
}

// BodyFunc returns the work function for a builtin body name. Each call
// returns a fresh function; bodies with per-task state (fail-n-times)
// never share counters between tasks.
func BodyFunc(name string) (func(ctx context.Context, input any) (any, error), error) {
	switch name {
	case BodySleep:
		return sleepBody, nil
	case BodyChecksum:
		return checksumBody, nil
	case BodyTransform:
		return transformBody, nil
	case BodyFailTimes:
		var attempts atomic.Int64
		return func(ctx context.Context, input any) (any, error) {
			n := attempts.Add(1)
			if n <= int64(cast.ToInt(input)) {
				return nil, fmt.Errorf("induced failure %d of %v", n, input)
			}
			return n, nil
		}, nil
	case "":
		return nil, fmt.Errorf("task has no body")
	}
	return nil, fmt.Errorf("unknown body %q (valid: %s)", name, strings.Join(BodyNames(), ", "))
}

// sleepBody sleeps for the input duration in milliseconds, honoring
// cancellation.
func sleepBody(ctx context.Context, input any) (any, error) {
	d := time.Duration(cast.ToInt(input)) * time.Millisecond
	select {
	case <-time.After(d):
		return d.String(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checksumBody returns the FNV-1a hash of the input's string form.
func checksumBody(_ context.Context, input any) (any, error) {
	h := fnv.New64a()
	fmt.Fprint(h, cast.ToString(input))
	return h.Sum64(), nil
}

// transformBody upper-cases the input's string form.
func transformBody(_ context.Context, input any) (any, error) {
	return strings.ToUpper(cast.ToString(input)), nil
}
