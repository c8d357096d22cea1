package script

import (
	"fmt"

	lua "github.com/Shopify/go-lua"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/pawn"
)

// This file is the explicit boundary between duck-typed script tables and the
// core's strongly typed entities. Script values never cross into
// invariant-bearing logic without passing through one of these conversions.

func pushVec3(l *lua.State, v mathx.Vec3) {
	l.CreateTable(0, 3)
	l.PushNumber(v.X)
	l.SetField(-2, "x")
	l.PushNumber(v.Y)
	l.SetField(-2, "y")
	l.PushNumber(v.Z)
	l.SetField(-2, "z")
}

func pushVec2(l *lua.State, v mathx.Vec2) {
	l.CreateTable(0, 2)
	l.PushNumber(v.X)
	l.SetField(-2, "x")
	l.PushNumber(v.Y)
	l.SetField(-2, "y")
}

func pushQuat(l *lua.State, q mathx.Quat) {
	l.CreateTable(0, 4)
	l.PushNumber(q.X)
	l.SetField(-2, "x")
	l.PushNumber(q.Y)
	l.SetField(-2, "y")
	l.PushNumber(q.Z)
	l.SetField(-2, "z")
	l.PushNumber(q.W)
	l.SetField(-2, "w")
}

func numField(l *lua.State, index int, name string) (float64, bool) {
	l.Field(index, name)
	defer l.Pop(1)
	return l.ToNumber(-1)
}

func strField(l *lua.State, index int, name string) (string, bool) {
	l.Field(index, name)
	defer l.Pop(1)
	if l.TypeOf(-1) != lua.TypeString {
		return "", false
	}
	return l.ToString(-1)
}

func boolField(l *lua.State, index int, name string) (bool, bool) {
	l.Field(index, name)
	defer l.Pop(1)
	if l.TypeOf(-1) != lua.TypeBoolean {
		return false, false
	}
	return l.ToBoolean(-1), true
}

func toVec3(l *lua.State, index int) (mathx.Vec3, bool) {
	if l.TypeOf(index) != lua.TypeTable {
		return mathx.Vec3{}, false
	}
	var v mathx.Vec3
	v.X, _ = numField(l, index, "x")
	v.Y, _ = numField(l, index, "y")
	v.Z, _ = numField(l, index, "z")
	return v, true
}

func toVec2(l *lua.State, index int) (mathx.Vec2, bool) {
	if l.TypeOf(index) != lua.TypeTable {
		return mathx.Vec2{}, false
	}
	var v mathx.Vec2
	v.X, _ = numField(l, index, "x")
	v.Y, _ = numField(l, index, "y")
	return v, true
}

func toQuat(l *lua.State, index int) (mathx.Quat, bool) {
	if l.TypeOf(index) != lua.TypeTable {
		return mathx.Quat{}, false
	}
	var q mathx.Quat
	q.X, _ = numField(l, index, "x")
	q.Y, _ = numField(l, index, "y")
	q.Z, _ = numField(l, index, "z")
	if w, ok := numField(l, index, "w"); ok {
		q.W = w
	} else {
		q = mathx.IdentityQuat()
	}
	return q, true
}

func vec3Field(l *lua.State, index int, name string) (mathx.Vec3, bool) {
	l.Field(index, name)
	defer l.Pop(1)
	return toVec3(l, l.Top())
}

func quatField(l *lua.State, index int, name string) (mathx.Quat, bool) {
	l.Field(index, name)
	defer l.Pop(1)
	return toQuat(l, l.Top())
}

func stringList(l *lua.State, index int) []string {
	if l.TypeOf(index) != lua.TypeTable {
		return nil
	}
	n := l.RawLength(index)
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		l.RawGetInt(index, i)
		if s, ok := l.ToString(-1); ok {
			out = append(out, s)
		}
		l.Pop(1)
	}
	return out
}

func pushStringList(l *lua.State, items []string) {
	l.CreateTable(len(items), 0)
	for i, s := range items {
		l.PushString(s)
		l.RawSetInt(-2, i+1)
	}
}

// pushPawn converts a pawn to its script table form.
func pushPawn(l *lua.State, p *pawn.Pawn) {
	l.CreateTable(0, 10)
	l.PushInteger(int(p.ID))
	l.SetField(-2, "id")
	l.PushString(p.Name)
	l.SetField(-2, "name")
	l.PushString(p.Mesh)
	l.SetField(-2, "mesh")
	l.PushInteger(int(p.Tint))
	l.SetField(-2, "tint")
	l.PushString(p.Texture)
	l.SetField(-2, "texture")
	l.PushBoolean(p.Moveable)
	l.SetField(-2, "moveable")
	pushVec3(l, p.Position)
	l.SetField(-2, "position")
	pushQuat(l, p.Rotation)
	l.SetField(-2, "rotation")
	pushQuat(l, p.SelectRotation)
	l.SetField(-2, "select_rotation")
	if p.SelectedUser != nil {
		l.PushInteger(int(*p.SelectedUser))
		l.SetField(-2, "selected_user")
	}
	pushData(l, p.Data)
}

// pushData writes the payload variant fields onto the pawn table at -1.
func pushData(l *lua.State, d pawn.Data) {
	l.PushString(string(d.Kind))
	l.SetField(-2, "class")
	switch d.Kind {
	case pawn.KindDeck:
		l.CreateTable(0, 7)
		pushStringList(l, d.Deck.Contents)
		l.SetField(-2, "contents")
		l.PushString(d.Deck.Back)
		l.SetField(-2, "back")
		l.PushInteger(int(d.Deck.SideColor))
		l.SetField(-2, "side_color")
		l.PushString(d.Deck.Border)
		l.SetField(-2, "border")
		l.PushNumber(d.Deck.CornerRadius)
		l.SetField(-2, "corner_radius")
		l.PushNumber(d.Deck.CardThickness)
		l.SetField(-2, "card_thickness")
		pushVec2(l, d.Deck.Size)
		l.SetField(-2, "size")
		l.SetField(-2, "deck")
	case pawn.KindContainer:
		l.CreateTable(0, 2)
		if d.Container.Holds != nil {
			pushPawn(l, d.Container.Holds)
			l.SetField(-2, "holds")
		}
		if d.Container.Capacity != nil {
			l.PushInteger(int(*d.Container.Capacity))
			l.SetField(-2, "capacity")
		}
		l.SetField(-2, "container")
	case pawn.KindSnapPoint:
		l.CreateTable(0, 4)
		l.PushNumber(d.SnapPoint.Radius)
		l.SetField(-2, "radius")
		pushVec2(l, d.SnapPoint.Size)
		l.SetField(-2, "size")
		l.PushNumber(d.SnapPoint.Scale)
		l.SetField(-2, "scale")
		pushStringList(l, d.SnapPoint.Snaps)
		l.SetField(-2, "snaps")
		l.SetField(-2, "snap_point")
	case pawn.KindDice:
		l.CreateTable(0, 1)
		l.CreateTable(len(d.Dice.RollRotations), 0)
		for i, q := range d.Dice.RollRotations {
			pushQuat(l, q)
			l.RawSetInt(-2, i+1)
		}
		l.SetField(-2, "roll_rotations")
		l.SetField(-2, "dice")
	}
}

// toPawn converts a script table to a pawn, applying defaults for absent
// fields. The class tag is validated exhaustively.
func toPawn(l *lua.State, index int) (*pawn.Pawn, error) {
	if l.TypeOf(index) != lua.TypeTable {
		return nil, fmt.Errorf("expected pawn table, got %s", lua.TypeNameOf(l, index))
	}

	p := &pawn.Pawn{
		Rotation:       mathx.IdentityQuat(),
		SelectRotation: mathx.IdentityQuat(),
		Moveable:       true,
		Data:           pawn.PlainData(),
	}
	if id, ok := numField(l, index, "id"); ok {
		p.ID = pawn.ID(id)
	}
	p.Name, _ = strField(l, index, "name")
	p.Mesh, _ = strField(l, index, "mesh")
	if tint, ok := numField(l, index, "tint"); ok {
		p.Tint = uint64(tint)
	}
	p.Texture, _ = strField(l, index, "texture")
	if m, ok := boolField(l, index, "moveable"); ok {
		p.Moveable = m
	}
	if v, ok := vec3Field(l, index, "position"); ok {
		p.Position = v
	}
	if q, ok := quatField(l, index, "rotation"); ok {
		p.Rotation = q
	}
	if q, ok := quatField(l, index, "select_rotation"); ok {
		p.SelectRotation = q
	}

	data, err := toData(l, index)
	if err != nil {
		return nil, err
	}
	p.Data = data
	return p, nil
}

func toData(l *lua.State, index int) (pawn.Data, error) {
	class, ok := strField(l, index, "class")
	if !ok || class == "" {
		return pawn.PlainData(), nil
	}
	switch pawn.Kind(class) {
	case pawn.KindPawn:
		return pawn.PlainData(), nil
	case pawn.KindDeck:
		l.Field(index, "deck")
		defer l.Pop(1)
		t := l.Top()
		deck := &pawn.Deck{Contents: []string{}}
		if l.TypeOf(t) == lua.TypeTable {
			l.Field(t, "contents")
			deck.Contents = stringList(l, l.Top())
			l.Pop(1)
			deck.Back, _ = strField(l, t, "back")
			if v, ok := numField(l, t, "side_color"); ok {
				deck.SideColor = uint64(v)
			}
			deck.Border, _ = strField(l, t, "border")
			deck.CornerRadius, _ = numField(l, t, "corner_radius")
			deck.CardThickness, _ = numField(l, t, "card_thickness")
			l.Field(t, "size")
			if sz, ok := toVec2(l, l.Top()); ok {
				deck.Size = sz
			}
			l.Pop(1)
		}
		return pawn.Data{Kind: pawn.KindDeck, Deck: deck}, nil
	case pawn.KindContainer:
		l.Field(index, "container")
		defer l.Pop(1)
		t := l.Top()
		cont := &pawn.Container{}
		if l.TypeOf(t) == lua.TypeTable {
			l.Field(t, "holds")
			if l.TypeOf(-1) == lua.TypeTable {
				holds, err := toPawn(l, l.Top())
				if err != nil {
					l.Pop(1)
					return pawn.Data{}, fmt.Errorf("container holds: %w", err)
				}
				cont.Holds = holds
			}
			l.Pop(1)
			if v, ok := numField(l, t, "capacity"); ok {
				n := uint64(v)
				cont.Capacity = &n
			}
		}
		return pawn.Data{Kind: pawn.KindContainer, Container: cont}, nil
	case pawn.KindSnapPoint:
		l.Field(index, "snap_point")
		defer l.Pop(1)
		t := l.Top()
		sp := &pawn.SnapPoint{}
		if l.TypeOf(t) == lua.TypeTable {
			sp.Radius, _ = numField(l, t, "radius")
			l.Field(t, "size")
			if sz, ok := toVec2(l, l.Top()); ok {
				sp.Size = sz
			}
			l.Pop(1)
			sp.Scale, _ = numField(l, t, "scale")
			l.Field(t, "snaps")
			sp.Snaps = stringList(l, l.Top())
			l.Pop(1)
		}
		return pawn.Data{Kind: pawn.KindSnapPoint, SnapPoint: sp}, nil
	case pawn.KindDice:
		l.Field(index, "dice")
		defer l.Pop(1)
		t := l.Top()
		dice := &pawn.Dice{}
		if l.TypeOf(t) == lua.TypeTable {
			l.Field(t, "roll_rotations")
			rt := l.Top()
			if l.TypeOf(rt) == lua.TypeTable {
				n := l.RawLength(rt)
				for i := 1; i <= n; i++ {
					l.RawGetInt(rt, i)
					if q, ok := toQuat(l, l.Top()); ok {
						dice.RollRotations = append(dice.RollRotations, q)
					}
					l.Pop(1)
				}
			}
			l.Pop(1)
		}
		return pawn.Data{Kind: pawn.KindDice, Dice: dice}, nil
	default:
		return pawn.Data{}, fmt.Errorf("unknown pawn class %q", class)
	}
}

// toUpdate converts a script table into a sparse pawn update: only fields
// present in the table are patched.
func toUpdate(l *lua.State, index int) (pawn.Update, error) {
	if l.TypeOf(index) != lua.TypeTable {
		return pawn.Update{}, fmt.Errorf("expected update table, got %s", lua.TypeNameOf(l, index))
	}
	var u pawn.Update
	id, ok := numField(l, index, "id")
	if !ok {
		return pawn.Update{}, fmt.Errorf("update missing id")
	}
	u.ID = pawn.ID(id)

	if s, ok := strField(l, index, "name"); ok {
		u.Name = &s
	}
	if s, ok := strField(l, index, "mesh"); ok {
		u.Mesh = &s
	}
	if v, ok := numField(l, index, "tint"); ok {
		n := uint64(v)
		u.Tint = &n
	}
	if s, ok := strField(l, index, "texture"); ok {
		u.Texture = &s
	}
	if b, ok := boolField(l, index, "moveable"); ok {
		u.Moveable = &b
	}
	if v, ok := vec3Field(l, index, "position"); ok {
		u.Position = &v
	}
	if q, ok := quatField(l, index, "rotation"); ok {
		u.Rotation = &q
	}
	if b, ok := boolField(l, index, "selected"); ok {
		u.Selected = &b
	}
	if q, ok := quatField(l, index, "select_rotation"); ok {
		u.SelectRotation = &q
	}
	if class, ok := strField(l, index, "class"); ok && class != "" {
		data, err := toData(l, index)
		if err != nil {
			return pawn.Update{}, err
		}
		u.Data = &data
	}
	return u, nil
}
