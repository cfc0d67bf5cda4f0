// Package script implements the script runner from spec §4.D: sandboxed
// execution of a single script module in a borrowed isolate, with host
// functions exposed to scripts and gopher-lua's own error shapes mapped onto
// the driver's compile/timeout/runtime error kinds. No failure is reported
// as a memory_error; a script that exhausts its VM surfaces as a runtime
// error. Grounded
// on the teacher's internal/scripting engine (DoFile-based script loading and
// CallByParam-based invocation), generalized from one fixed combat API to an
// arbitrary module entrypoint run inside a pool-managed isolate.
package script

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mudforge/driver/internal/errs"
	"github.com/mudforge/driver/internal/isolate"
)

// HostFunc is a Go function exposed to scripts under a fixed name.
type HostFunc func(vm *lua.LState) int

// Runner executes script modules, one at a time per isolate, via the pool.
type Runner struct {
	pool    *isolate.Pool
	timeout time.Duration
	host    map[string]HostFunc
}

func NewRunner(pool *isolate.Pool, timeout time.Duration) *Runner {
	return &Runner{pool: pool, timeout: timeout, host: make(map[string]HostFunc)}
}

// RegisterHost installs a Go function under name, visible as a global in
// every isolate this runner executes scripts in. Call before the first Run.
func (r *Runner) RegisterHost(name string, fn HostFunc) {
	r.host[name] = fn
}

// Result is what one script module run produced.
type Result struct {
	Value    lua.LValue
	Duration time.Duration
}

// Run borrows an isolate from the pool, installs host functions, compiles
// source under chunkName, and executes it. A syntax error yields
// errs.KindCompile; a deadline exceeded yields errs.KindTimeout; any other
// runtime failure yields errs.KindRuntime. The isolate is always returned to
// the pool before Run returns.
func (r *Runner) Run(ctx context.Context, chunkName, source string, args map[string]lua.LValue) (Result, error) {
	iso, err := r.pool.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer iso.Release()

	runCtx, cancel := isolate.WithTimeout(iso, r.timeout)
	defer cancel()

	vm := iso.VM
	for name, fn := range r.host {
		vm.SetGlobal(name, vm.NewFunction(fn))
	}
	argsTable := vm.NewTable()
	for k, v := range args {
		argsTable.RawSetString(k, v)
	}
	vm.SetGlobal("args", argsTable)

	fn, err := vm.LoadString(source)
	if err != nil {
		return Result{}, errs.New(errs.KindCompile, fmt.Sprintf("compile %s", chunkName), err)
	}

	start := time.Now()
	vm.Push(fn)
	callErr := vm.PCall(0, 1, nil)
	elapsed := time.Since(start)

	if callErr != nil {
		if runCtx.Err() != nil {
			return Result{Duration: elapsed}, errs.New(errs.KindTimeout, fmt.Sprintf("%s exceeded script timeout", chunkName), runCtx.Err())
		}
		return Result{Duration: elapsed}, errs.New(errs.KindRuntime, fmt.Sprintf("%s runtime error", chunkName), callErr)
	}

	ret := vm.Get(-1)
	vm.Pop(1)
	return Result{Value: ret, Duration: elapsed}, nil
}

// RunModule is the run_module convenience wrapper from spec §4.D: it calls a
// named top-level function after executing source, passing args as a single
// table argument and returning its first return value.
func (r *Runner) RunModule(ctx context.Context, chunkName, source, entrypoint string, args map[string]lua.LValue) (Result, error) {
	iso, err := r.pool.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer iso.Release()

	runCtx, cancel := isolate.WithTimeout(iso, r.timeout)
	defer cancel()

	vm := iso.VM
	for name, fn := range r.host {
		vm.SetGlobal(name, vm.NewFunction(fn))
	}

	if err := vm.DoString(source); err != nil {
		return Result{}, errs.New(errs.KindCompile, fmt.Sprintf("compile %s", chunkName), err)
	}

	entry := vm.GetGlobal(entrypoint)
	if entry == lua.LNil {
		return Result{}, errs.New(errs.KindRuntime, fmt.Sprintf("%s: entrypoint %q not defined", chunkName, entrypoint), nil)
	}

	argsTable := vm.NewTable()
	for k, v := range args {
		argsTable.RawSetString(k, v)
	}

	start := time.Now()
	callErr := vm.CallByParam(lua.P{Fn: entry, NRet: 1, Protect: true}, argsTable)
	elapsed := time.Since(start)

	if callErr != nil {
		if runCtx.Err() != nil {
			return Result{Duration: elapsed}, errs.New(errs.KindTimeout, fmt.Sprintf("%s exceeded script timeout", chunkName), runCtx.Err())
		}
		return Result{Duration: elapsed}, errs.New(errs.KindRuntime, fmt.Sprintf("%s.%s runtime error", chunkName, entrypoint), callErr)
	}

	ret := vm.Get(-1)
	vm.Pop(1)
	return Result{Value: ret, Duration: elapsed}, nil
}
