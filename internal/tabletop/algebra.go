package tabletop

import (
	"fmt"

	"go.uber.org/zap"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/pawn"
	"tablesim.dev/internal/protocol"
)

// ExtractPawns splits a new pawn off a container or deck. The new id is
// chosen by the caller and must be fresh. With intoID set the extracted pawn
// goes straight into that user's hand instead of onto the table.
func (l *Lobby) ExtractPawns(actor pawn.UserID, fromID, newID pawn.ID, intoID *pawn.UserID, count *uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if newID == 0 {
		return fmt.Errorf("extract: new id must be nonzero")
	}
	if _, exists := l.pawns[newID]; exists {
		return fmt.Errorf("extract: id %d in use", newID)
	}
	from, ok := l.pawns[fromID]
	if !ok {
		return fmt.Errorf("extract from %d: %w", fromID, ErrUnknownPawn)
	}
	if from.SelectedUser != nil && *from.SelectedUser != actor {
		return fmt.Errorf("extract from %d: held by another user", fromID)
	}
	// Validate the destination before the source is touched; a failed extract
	// must never drain cards or burn capacity.
	if intoID != nil {
		if _, ok := l.users[*intoID]; !ok {
			return fmt.Errorf("extract into hand of %d: %w", *intoID, ErrUnknownUser)
		}
	} else if len(l.pawns) >= MaxPawns {
		return fmt.Errorf("extract: %w", ErrPawnCap)
	}

	var extracted *pawn.Pawn
	switch from.Data.Kind {
	case pawn.KindContainer:
		c := from.Data.Container
		if c.Holds == nil {
			return fmt.Errorf("extract from %d: empty container", fromID)
		}
		if c.Capacity != nil {
			if *c.Capacity == 0 {
				return fmt.Errorf("extract from %d: container exhausted", fromID)
			}
			*c.Capacity--
		}
		extracted = c.Holds.Clone()
		extracted.ID = newID
		extracted.Position = from.Position
		extracted.Position.Y += containerSpawnOffset

	case pawn.KindDeck:
		d := from.Data.Deck
		n := uint64(1)
		if count != nil && *count > 1 {
			n = *count
		}
		if uint64(len(d.Contents)) <= n {
			return fmt.Errorf("extract from %d: at least one card must remain", fromID)
		}
		// The physical top of the stack depends on the deck's flip state:
		// draw from the matching end so the visible top card is what moves.
		var drawn []string
		if from.Flipped() {
			cut := len(d.Contents) - int(n)
			drawn = append([]string(nil), d.Contents[cut:]...)
			d.Contents = d.Contents[:cut]
		} else {
			drawn = append([]string(nil), d.Contents[:n]...)
			d.Contents = d.Contents[n:]
		}

		split := *from
		extracted = &split
		extracted.ID = newID
		extracted.SelectedUser = nil
		extracted.RigidBody = 0
		extracted.Position.Y += deckSplitOffset
		deck := *d
		deck.Contents = drawn
		extracted.Data = pawn.Data{Kind: pawn.KindDeck, Deck: &deck}

		// Thinner stack, thinner collider.
		if err := l.rebuildCollidersLocked(from); err != nil {
			l.logConsistency("extract rebuild", err, zap.Uint64("pawn", uint64(fromID)))
		}

	default:
		return fmt.Errorf("extract from %d: %w", fromID, ErrNotContainer)
	}

	l.bumpID(uint64(newID))
	sourceData := from.Data
	l.relayExcept(nil, protocol.UpdatePawnsMsg{
		Type:    protocol.TypeUpdatePawns,
		Updates: []pawn.Update{{ID: fromID, Data: &sourceData}},
	})

	if intoID != nil {
		return l.storeInHandLocked(extracted, *intoID)
	}
	added, err := l.addPawnLocked(extracted)
	if err != nil {
		return err
	}
	l.relayExcept(nil, protocol.AddPawnMsg{Type: protocol.TypeAddPawn, Pawn: *added})
	return nil
}

// StorePawn moves a standing pawn into a container, onto a deck, or into a
// user's hand, deleting it from the table. The target id is looked up as a
// pawn first, then as a user; the two share one id space.
func (l *Lobby) StorePawn(actor pawn.UserID, fromID pawn.ID, intoID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, ok := l.pawns[fromID]
	if !ok {
		return fmt.Errorf("store %d: %w", fromID, ErrUnknownPawn)
	}
	if from.SelectedUser != nil && *from.SelectedUser != actor {
		return fmt.Errorf("store %d: held by another user", fromID)
	}

	if into, ok := l.pawns[pawn.ID(intoID)]; ok {
		switch into.Data.Kind {
		case pawn.KindContainer:
			if c := into.Data.Container; c.Capacity != nil {
				*c.Capacity++
			}
		case pawn.KindDeck:
			if from.Data.Kind != pawn.KindDeck {
				return fmt.Errorf("store %d into deck %d: %w", fromID, intoID, ErrNotMergeable)
			}
			d := into.Data.Deck
			// Merge at the end cards are drawn from, mirroring extract so
			// a split deck stores back to its original order.
			if into.Flipped() {
				d.Contents = append(d.Contents, from.Data.Deck.Contents...)
			} else {
				d.Contents = append(append([]string(nil), from.Data.Deck.Contents...), d.Contents...)
			}
			if err := l.rebuildCollidersLocked(into); err != nil {
				l.logConsistency("store rebuild", err, zap.Uint64("pawn", uint64(into.ID)))
			}
		default:
			return fmt.Errorf("store %d into %d: %w", fromID, intoID, ErrNotMergeable)
		}

		l.removePawnLocked(from)
		targetData := into.Data
		l.relayExcept(nil, protocol.UpdatePawnsMsg{
			Type:    protocol.TypeUpdatePawns,
			Updates: []pawn.Update{{ID: into.ID, Data: &targetData}},
		})
		l.relayExcept(nil, protocol.RemovePawnsMsg{Type: protocol.TypeRemovePawns, IDs: []pawn.ID{fromID}})
		return nil
	}

	if _, ok := l.users[pawn.UserID(intoID)]; ok {
		l.removePawnLocked(from)
		from.SelectedUser = nil
		if err := l.storeInHandLocked(from, pawn.UserID(intoID)); err != nil {
			return err
		}
		l.relayExcept(nil, protocol.RemovePawnsMsg{Type: protocol.TypeRemovePawns, IDs: []pawn.ID{fromID}})
		return nil
	}
	return fmt.Errorf("store %d into %d: target not found", fromID, intoID)
}

// storeInHandLocked moves a table-less pawn into a user's hand and notifies
// them. The pawn must already have no rigid body.
func (l *Lobby) storeInHandLocked(p *pawn.Pawn, intoID pawn.UserID) error {
	u, ok := l.users[intoID]
	if !ok {
		return fmt.Errorf("store into hand of %d: %w", intoID, ErrUnknownUser)
	}
	u.hand[p.ID] = p
	l.sendTo(u, protocol.AddPawnToHandMsg{Type: protocol.TypeAddPawnToHand, Pawn: *p})
	if l.settings.ShowCardCounts {
		l.relayExcept(nil, protocol.HandCountMsg{
			Type:  protocol.TypeHandCount,
			ID:    intoID,
			Count: uint64(len(u.hand)),
		})
	}
	return nil
}

// TakePawn moves a pawn out of the actor's own hand back onto the table.
// Taking from another user's hand is a hard error, never silently ignored.
func (l *Lobby) TakePawn(actor, fromUser pawn.UserID, targetID pawn.ID, positionHint *mathx.Vec3) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if actor != fromUser {
		return fmt.Errorf("take: user %d may not take from hand of %d", actor, fromUser)
	}
	u, ok := l.users[fromUser]
	if !ok {
		return fmt.Errorf("take from %d: %w", fromUser, ErrUnknownUser)
	}
	p, ok := u.hand[targetID]
	if !ok {
		return fmt.Errorf("take %d: not in hand", targetID)
	}

	delete(u.hand, targetID)
	if positionHint != nil {
		p.Position = *positionHint
	}
	added, err := l.addPawnLocked(p)
	if err != nil {
		// Table refused it; the hand keeps it.
		u.hand[targetID] = p
		return err
	}
	l.relayExcept(nil, protocol.AddPawnMsg{Type: protocol.TypeAddPawn, Pawn: *added})
	if l.settings.ShowCardCounts {
		l.relayExcept(nil, protocol.HandCountMsg{
			Type:  protocol.TypeHandCount,
			ID:    fromUser,
			Count: uint64(len(u.hand)),
		})
	}
	return nil
}
