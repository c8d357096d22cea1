package pawn

import (
	"encoding/json"
	"fmt"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/phys"
)

// Kind tags the closed set of pawn payload variants.
type Kind string

const (
	KindPawn      Kind = "Pawn"
	KindDeck      Kind = "Deck"
	KindContainer Kind = "Container"
	KindSnapPoint Kind = "SnapPoint"
	KindDice      Kind = "Dice"
)

// Deck is an ordered stack of card identifiers. Index 0 is the top while the
// deck is unflipped.
type Deck struct {
	Contents      []string   `json:"contents"`
	Back          string     `json:"back,omitempty"`
	SideColor     uint64     `json:"sideColor"`
	Border        string     `json:"border,omitempty"`
	CornerRadius  float64    `json:"cornerRadius"`
	CardThickness float64    `json:"cardThickness"`
	Size          mathx.Vec2 `json:"size"`
}

// Container spawns clones of a template pawn. A nil Capacity is infinite.
type Container struct {
	Holds    *Pawn   `json:"holds"`
	Capacity *uint64 `json:"capacity,omitempty"`
}

// SnapPoint is a placement guide with no physical embodiment.
type SnapPoint struct {
	Radius float64    `json:"radius"`
	Size   mathx.Vec2 `json:"size"`
	Scale  float64    `json:"scale"`
	Snaps  []string   `json:"snaps,omitempty"`
}

// Dice carries the face-orientation table used for outcome detection.
type Dice struct {
	RollRotations []mathx.Quat `json:"rollRotations"`
}

// Data is the tagged-variant pawn payload. Exactly the variant named by Kind
// is non-nil; KindPawn carries nothing.
type Data struct {
	Kind      Kind
	Deck      *Deck
	Container *Container
	SnapPoint *SnapPoint
	Dice      *Dice
}

func PlainData() Data { return Data{Kind: KindPawn} }

type dataWire struct {
	Class Kind            `json:"class"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	var inner any
	switch d.Kind {
	case KindDeck:
		inner = d.Deck
	case KindContainer:
		inner = d.Container
	case KindSnapPoint:
		inner = d.SnapPoint
	case KindDice:
		inner = d.Dice
	case KindPawn, "":
		return json.Marshal(dataWire{Class: KindPawn})
	default:
		return nil, fmt.Errorf("marshal pawn data: unknown class %q", d.Kind)
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(dataWire{Class: d.Kind, Data: raw})
}

func (d *Data) UnmarshalJSON(b []byte) error {
	var w dataWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*d = Data{Kind: w.Class}
	var err error
	switch w.Class {
	case KindDeck:
		d.Deck = &Deck{}
		err = json.Unmarshal(w.Data, d.Deck)
	case KindContainer:
		d.Container = &Container{}
		err = json.Unmarshal(w.Data, d.Container)
	case KindSnapPoint:
		d.SnapPoint = &SnapPoint{}
		err = json.Unmarshal(w.Data, d.SnapPoint)
	case KindDice:
		d.Dice = &Dice{}
		err = json.Unmarshal(w.Data, d.Dice)
	case KindPawn, "":
		d.Kind = KindPawn
	default:
		return fmt.Errorf("unmarshal pawn data: unknown class %q", w.Class)
	}
	return err
}

func (d Data) clone() Data {
	c := Data{Kind: d.Kind}
	switch d.Kind {
	case KindDeck:
		if d.Deck != nil {
			deck := *d.Deck
			deck.Contents = append([]string(nil), d.Deck.Contents...)
			c.Deck = &deck
		}
	case KindContainer:
		if d.Container != nil {
			cont := Container{}
			if d.Container.Holds != nil {
				cont.Holds = d.Container.Holds.Clone()
			}
			if d.Container.Capacity != nil {
				n := *d.Container.Capacity
				cont.Capacity = &n
			}
			c.Container = &cont
		}
	case KindSnapPoint:
		if d.SnapPoint != nil {
			sp := *d.SnapPoint
			sp.Snaps = append([]string(nil), d.SnapPoint.Snaps...)
			c.SnapPoint = &sp
		}
	case KindDice:
		if d.Dice != nil {
			dice := Dice{RollRotations: append([]mathx.Quat(nil), d.Dice.RollRotations...)}
			c.Dice = &dice
		}
	}
	return c
}

// Collider physical constants shared by every derived collider.
const (
	ColliderFriction = 0.7
	ColliderMass     = 0.01

	deckThicknessFactor = 1.15
	deckMinHalfHeight   = 0.03
)

// Collider derives the collider for this payload, if it has one. Deck
// colliders are cuboids whose height tracks the stack size; snap points are
// never physically embodied; the remaining kinds fall back to the caller's
// mesh-derived or default collider. scale is the lobby's physics scale.
func (d Data) Collider(scale float64) (phys.ColliderDesc, bool) {
	switch d.Kind {
	case KindDeck:
		deck := d.Deck
		halfY := deck.CardThickness * float64(len(deck.Contents)) * deckThicknessFactor / 2
		if halfY < deckMinHalfHeight {
			halfY = deckMinHalfHeight
		}
		return phys.ColliderDesc{
			Shape: phys.Cuboid{HalfExtents: mathx.Vec3{
				X: deck.Size.X / 2 * scale,
				Y: halfY * scale,
				Z: deck.Size.Y / 2 * scale,
			}},
			Friction:        ColliderFriction,
			Mass:            ColliderMass,
			CollisionEvents: true,
		}, true
	default:
		return phys.ColliderDesc{}, false
	}
}

// DefaultCollider is the unit cuboid used for pawns without mesh-derived
// geometry.
func DefaultCollider(scale float64) phys.ColliderDesc {
	return phys.ColliderDesc{
		Shape:           phys.Cuboid{HalfExtents: mathx.Vec3{X: 0.5 * scale, Y: 0.5 * scale, Z: 0.5 * scale}},
		Friction:        ColliderFriction,
		Mass:            ColliderMass,
		CollisionEvents: true,
	}
}
