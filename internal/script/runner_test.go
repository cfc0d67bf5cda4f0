package script

import (
	"context"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/stretchr/testify/require"

	"github.com/mudforge/driver/internal/errs"
	"github.com/mudforge/driver/internal/isolate"
)

func newTestRunner(t *testing.T, timeout time.Duration) *Runner {
	t.Helper()
	pool, err := isolate.New(2, 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewRunner(pool, timeout)
}

func TestRunReturnsValue(t *testing.T) {
	r := newTestRunner(t, time.Second)
	res, err := r.Run(context.Background(), "chunk", `return 1 + 1`, nil)
	require.NoError(t, err)
	require.Equal(t, lua.LNumber(2), res.Value)
}

func TestRunCompileError(t *testing.T) {
	r := newTestRunner(t, time.Second)
	_, err := r.Run(context.Background(), "chunk", `this is not lua (`, nil)
	require.Error(t, err)
	require.Equal(t, errs.KindCompile, errs.KindOf(err))
}

func TestRunTimeoutOnInfiniteLoop(t *testing.T) {
	r := newTestRunner(t, 30*time.Millisecond)
	_, err := r.Run(context.Background(), "chunk", `while true do end`, nil)
	require.Error(t, err)
	require.Equal(t, errs.KindTimeout, errs.KindOf(err))
}

func TestRunModuleInvokesEntrypoint(t *testing.T) {
	r := newTestRunner(t, time.Second)
	src := `function handle(a) return a.x + 1 end`
	res, err := r.RunModule(context.Background(), "chunk", src, "handle", map[string]lua.LValue{
		"x": lua.LNumber(41),
	})
	require.NoError(t, err)
	require.Equal(t, lua.LNumber(42), res.Value)
}

func TestRunModuleMissingEntrypoint(t *testing.T) {
	r := newTestRunner(t, time.Second)
	_, err := r.RunModule(context.Background(), "chunk", `x = 1`, "missing", nil)
	require.Error(t, err)
	require.Equal(t, errs.KindRuntime, errs.KindOf(err))
}

func TestHostFunctionIsCallableFromScript(t *testing.T) {
	r := newTestRunner(t, time.Second)
	var called bool
	r.RegisterHost("notify", func(vm *lua.LState) int {
		called = true
		return 0
	})
	_, err := r.Run(context.Background(), "chunk", `notify()`, nil)
	require.NoError(t, err)
	require.True(t, called)
}
