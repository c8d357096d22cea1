// Package script embeds a per-lobby Lua VM for untrusted game logic. The
// sandbox is deny-by-default: only base/math/string/table survive init, every
// other global is stripped. Each call into the VM runs under an instruction
// budget and a heap ceiling; blowing either fails that call with a recoverable
// error and never takes the process down.
package script

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	lua "github.com/Shopify/go-lua"

	"tablesim.dev/internal/pawn"
)

const (
	// DefaultInstructionBudget bounds a single call into the VM.
	DefaultInstructionBudget = 50_000
	// DefaultHeapLimit bounds heap growth during a single call.
	DefaultHeapLimit = 256 << 10

	// hookGranularity is how many VM instructions run between hook fires.
	hookGranularity = 1000

	// heapCheckEvery spaces the heap samples out: ReadMemStats is a
	// stop-the-world call, so it runs on every Nth hook fire, not every one.
	heapCheckEvery = 8
)

// Registry keys for VM-internal tables. Scripts cannot reach the registry.
const (
	regTimers   = "tablesim.timers"
	regGrab     = "tablesim.grab"
	regRelease  = "tablesim.release"
	regLoaded   = "tablesim.loaded"
)

// ErrExecutionLimit reports a script call that ran past its instruction
// budget or heap ceiling.
var ErrExecutionLimit = errors.New("script execution limit exceeded")

// Host is the lobby surface exposed to scripts. Implementations run with the
// lobby lock already held; they must not re-enter the VM.
type Host interface {
	Name() string
	// Time returns seconds since the lobby was created.
	Time() float64
	// SystemChat sends a system message to every user.
	SystemChat(content string)
	// ChatTo sends a system message to one user.
	ChatTo(id pawn.UserID, content string)
	CreatePawn(p *pawn.Pawn) (pawn.ID, error)
	UpdatePawn(u pawn.Update) error
	DestroyPawn(id pawn.ID) error
	GetPawn(id pawn.ID) (*pawn.Pawn, bool)
	// RegisterPawn records a named template a game can spawn by path.
	RegisterPawn(path string, p *pawn.Pawn) error
}

// Resolver maps a require path to script source. Used for both bundled
// built-ins and uploaded game assets.
type Resolver func(path string) (string, bool)

// VM is one lobby's sandboxed interpreter. It is not safe for concurrent
// use; the lobby serializes all calls and enforces non-reentrancy by taking
// the VM out of its struct for the duration of a call.
type VM struct {
	l       *lua.State
	host    Host
	resolve Resolver

	budget    int
	heapLimit uint64

	steps     int
	hookFires int
	heapStart uint64

	timers   map[int]int // slot -> remaining physics ticks
	nextSlot int
}

// New builds a sandboxed VM bound to the given host.
func New(host Host, resolve Resolver) *VM {
	vm := &VM{
		l:         lua.NewState(),
		host:      host,
		resolve:   resolve,
		budget:    DefaultInstructionBudget,
		heapLimit: DefaultHeapLimit,
		timers:    make(map[int]int),
	}

	l := vm.l
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)

	for _, key := range []string{regTimers, regGrab, regRelease, regLoaded} {
		l.NewTable()
		l.SetField(lua.RegistryIndex, key)
	}

	vm.registerAPI()
	vm.stripGlobals()

	lua.SetDebugHook(l, func(state *lua.State, _ lua.Debug) {
		vm.steps += hookGranularity
		if vm.steps > vm.budget {
			lua.Errorf(state, "instruction budget exceeded")
			return
		}
		vm.hookFires++
		if vm.hookFires%heapCheckEvery != 0 {
			return
		}
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapAlloc > vm.heapStart && ms.HeapAlloc-vm.heapStart > vm.heapLimit {
			lua.Errorf(state, "memory limit exceeded")
		}
	}, lua.MaskCount, hookGranularity)

	return vm
}

// allowedGlobals is the post-init allow list. Everything else is removed.
var allowedGlobals = map[string]bool{
	"_G": true, "_VERSION": true,
	"assert": true, "error": true, "ipairs": true, "next": true,
	"pairs": true, "pcall": true, "select": true, "tonumber": true,
	"tostring": true, "type": true, "xpcall": true,
	"math": true, "string": true, "table": true,
	"lobby": true, "require": true,
}

func (vm *VM) stripGlobals() {
	l := vm.l
	var doomed []string
	l.PushGlobalTable()
	l.PushNil()
	for l.Next(-2) {
		if name, ok := l.ToString(-2); ok && !allowedGlobals[name] {
			doomed = append(doomed, name)
		}
		l.Pop(1)
	}
	l.Pop(1)
	for _, name := range doomed {
		l.PushNil()
		l.SetGlobal(name)
	}
}

func (vm *VM) beginCall() {
	vm.steps = 0
	vm.hookFires = 0
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	vm.heapStart = ms.HeapAlloc
}

func (vm *VM) finishCall(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "instruction budget exceeded") ||
		strings.Contains(msg, "memory limit exceeded") {
		return fmt.Errorf("%w: %s", ErrExecutionLimit, msg)
	}
	return err
}

// Load runs a chunk of script source as the lobby's entry script.
func (vm *VM) Load(name, source string) error {
	l := vm.l
	if err := l.Load(strings.NewReader(source), "@"+name, ""); err != nil {
		return fmt.Errorf("load script %s: %w", name, err)
	}
	vm.beginCall()
	return vm.finishCall(l.ProtectedCall(0, 0, 0))
}

// callGlobal invokes a named global callback if it exists. A missing
// callback is a no-op, never an error.
func (vm *VM) callGlobal(name string, results int, push func(l *lua.State) int) (bool, error) {
	l := vm.l
	l.Global(name)
	if !l.IsFunction(-1) {
		l.Pop(1)
		return false, nil
	}
	args := push(l)
	vm.beginCall()
	if err := vm.finishCall(l.ProtectedCall(args, results, 0)); err != nil {
		return true, err
	}
	return true, nil
}

// Start fires the game's start callback, once, after its scripts load.
func (vm *VM) Start() error {
	_, err := vm.callGlobal("start", 0, func(*lua.State) int { return 0 })
	return err
}

// Physics fires the per-tick callback.
func (vm *VM) Physics() error {
	_, err := vm.callGlobal("physics", 0, func(*lua.State) int { return 0 })
	return err
}

// Chat fires the chat callback with the sending user and message.
func (vm *VM) Chat(id pawn.UserID, content string) error {
	_, err := vm.callGlobal("chat", 0, func(l *lua.State) int {
		l.PushInteger(int(id))
		l.PushString(content)
		return 2
	})
	return err
}

// Page renders a custom page by path. ok is false when the game defines no
// page callback or returns nothing for the path.
func (vm *VM) Page(path string) (body string, ok bool, err error) {
	found, err := vm.callGlobal("page", 1, func(l *lua.State) int {
		l.PushString(path)
		return 1
	})
	if !found || err != nil {
		return "", false, err
	}
	l := vm.l
	defer l.Pop(1)
	if s, isStr := l.ToString(-1); isStr {
		return s, true, nil
	}
	return "", false, nil
}

// Grab fires the pawn's grab or release hook if one is registered.
func (vm *VM) Grab(id pawn.ID, user pawn.UserID, grabbed bool) error {
	key := regGrab
	if !grabbed {
		key = regRelease
	}
	l := vm.l
	l.Field(lua.RegistryIndex, key)
	l.RawGetInt(-1, int(id))
	if !l.IsFunction(-1) {
		l.Pop(2)
		return nil
	}
	l.Remove(-2)
	l.PushInteger(int(user))
	vm.beginCall()
	return vm.finishCall(l.ProtectedCall(1, 0, 0))
}

// TickTimers advances scheduled one-shot callbacks by one physics tick and
// fires any that come due. Each fires exactly once and is then discarded.
func (vm *VM) TickTimers() []error {
	var due []int
	for slot := range vm.timers {
		vm.timers[slot]--
		if vm.timers[slot] <= 0 {
			due = append(due, slot)
		}
	}
	sort.Ints(due)

	var errs []error
	l := vm.l
	for _, slot := range due {
		delete(vm.timers, slot)
		l.Field(lua.RegistryIndex, regTimers)
		l.RawGetInt(-1, slot)
		if !l.IsFunction(-1) {
			l.Pop(2)
			continue
		}
		// Clear the slot before calling so a timer never fires twice.
		l.PushNil()
		l.RawSetInt(-3, slot)
		l.Remove(-2)
		vm.beginCall()
		if err := vm.finishCall(l.ProtectedCall(0, 0, 0)); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// PendingTimers reports how many scheduled callbacks have not fired yet.
func (vm *VM) PendingTimers() int { return len(vm.timers) }
