package script

import (
	"fmt"

	lua "github.com/Shopify/go-lua"

	"tablesim.dev/internal/pawn"
)

// registerAPI installs the global `lobby` method table. Every method runs
// with the lobby lock held by the caller of the surrounding VM entry point.
func (vm *VM) registerAPI() {
	l := vm.l

	methods := []lua.RegistryFunction{
		{Name: "name", Function: vm.apiName},
		{Name: "time", Function: vm.apiTime},
		{Name: "chat", Function: vm.apiChat},
		{Name: "create_pawn", Function: vm.apiCreatePawn},
		{Name: "update_pawn", Function: vm.apiUpdatePawn},
		{Name: "destroy_pawn", Function: vm.apiDestroyPawn},
		{Name: "get_pawn", Function: vm.apiGetPawn},
		{Name: "register_pawn", Function: vm.apiRegisterPawn},
		{Name: "schedule", Function: vm.apiSchedule},
		{Name: "on_grab", Function: vm.apiOnGrab},
		{Name: "on_release", Function: vm.apiOnRelease},
	}
	l.NewTable()
	lua.SetFunctions(l, methods, 0)
	l.SetGlobal("lobby")

	l.PushGoFunction(vm.apiRequire)
	l.SetGlobal("require")
}

func (vm *VM) apiName(l *lua.State) int {
	l.PushString(vm.host.Name())
	return 1
}

func (vm *VM) apiTime(l *lua.State) int {
	l.PushNumber(vm.host.Time())
	return 1
}

// lobby.chat(content[, user_id]) — system chat, optionally to one user.
func (vm *VM) apiChat(l *lua.State) int {
	content := lua.CheckString(l, 1)
	if l.Top() >= 2 && !l.IsNil(2) {
		vm.host.ChatTo(pawn.UserID(lua.CheckInteger(l, 2)), content)
	} else {
		vm.host.SystemChat(content)
	}
	return 0
}

func (vm *VM) apiCreatePawn(l *lua.State) int {
	p, err := toPawn(l, 1)
	if err != nil {
		lua.Errorf(l, "create_pawn: %s", err.Error())
	}
	id, err := vm.host.CreatePawn(p)
	if err != nil {
		lua.Errorf(l, "create_pawn: %s", err.Error())
	}
	l.PushInteger(int(id))
	return 1
}

func (vm *VM) apiUpdatePawn(l *lua.State) int {
	u, err := toUpdate(l, 1)
	if err != nil {
		lua.Errorf(l, "update_pawn: %s", err.Error())
	}
	if err := vm.host.UpdatePawn(u); err != nil {
		lua.Errorf(l, "update_pawn: %s", err.Error())
	}
	return 0
}

func (vm *VM) apiDestroyPawn(l *lua.State) int {
	id := pawn.ID(lua.CheckInteger(l, 1))
	if err := vm.host.DestroyPawn(id); err != nil {
		lua.Errorf(l, "destroy_pawn: %s", err.Error())
	}
	return 0
}

func (vm *VM) apiGetPawn(l *lua.State) int {
	id := pawn.ID(lua.CheckInteger(l, 1))
	p, ok := vm.host.GetPawn(id)
	if !ok {
		l.PushNil()
		return 1
	}
	pushPawn(l, p)
	return 1
}

func (vm *VM) apiRegisterPawn(l *lua.State) int {
	path := lua.CheckString(l, 1)
	p, err := toPawn(l, 2)
	if err != nil {
		lua.Errorf(l, "register_pawn: %s", err.Error())
	}
	if err := vm.host.RegisterPawn(path, p); err != nil {
		lua.Errorf(l, "register_pawn: %s", err.Error())
	}
	return 0
}

// lobby.schedule(fn, ticks) — one-shot callback after N physics ticks.
func (vm *VM) apiSchedule(l *lua.State) int {
	if !l.IsFunction(1) {
		lua.Errorf(l, "schedule: expected function")
	}
	ticks := lua.CheckInteger(l, 2)
	if ticks < 1 {
		ticks = 1
	}

	vm.nextSlot++
	slot := vm.nextSlot
	l.Field(lua.RegistryIndex, regTimers)
	l.PushValue(1)
	l.RawSetInt(-2, slot)
	l.Pop(1)
	vm.timers[slot] = ticks
	return 0
}

func (vm *VM) apiOnGrab(l *lua.State) int {
	return vm.setPawnHook(l, regGrab)
}

func (vm *VM) apiOnRelease(l *lua.State) int {
	return vm.setPawnHook(l, regRelease)
}

// setPawnHook stores fn (or nil to clear) under the pawn id.
func (vm *VM) setPawnHook(l *lua.State, key string) int {
	id := lua.CheckInteger(l, 1)
	if !l.IsFunction(2) && !l.IsNil(2) {
		lua.Errorf(l, "expected function or nil")
	}
	l.Field(lua.RegistryIndex, key)
	l.PushValue(2)
	l.RawSetInt(-2, id)
	l.Pop(1)
	return 0
}

// apiRequire resolves a script path through the lobby's asset table or the
// bundled built-ins, caching the chunk result like stock require.
func (vm *VM) apiRequire(l *lua.State) int {
	path := lua.CheckString(l, 1)

	l.Field(lua.RegistryIndex, regLoaded)
	l.Field(-1, path)
	if !l.IsNil(-1) {
		l.Remove(-2)
		return 1
	}
	l.Pop(2)

	src, ok := vm.resolve(path)
	if !ok {
		lua.Errorf(l, "%s", fmt.Sprintf("module %q not found", path))
	}
	if err := lua.LoadString(l, src); err != nil {
		lua.Errorf(l, "%s", fmt.Sprintf("load %q: %s", path, err.Error()))
	}
	l.Call(0, 1)
	if l.IsNil(-1) {
		l.Pop(1)
		l.PushBoolean(true)
	}

	l.Field(lua.RegistryIndex, regLoaded)
	l.PushValue(-2)
	l.SetField(-2, path)
	l.Pop(1)
	return 1
}
