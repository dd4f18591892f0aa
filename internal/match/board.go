package match

// Draw moves up to n cards from the front of the deck into the hand,
// reshuffling the discard into the deck (via reshuffle) if the deck runs
// dry mid-draw. Cards beyond HAND_MAX stay in the deck (§4.6).
func (p *PlayerState) Draw(n, handMax int, reshuffle func(discard []string) []string) {
	for i := 0; i < n; i++ {
		if len(p.Hand) >= handMax {
			return
		}
		if len(p.Deck) == 0 {
			if len(p.Discard) == 0 {
				return
			}
			p.Deck = reshuffle(p.Discard)
			p.Discard = nil
		}
		card := p.Deck[0]
		p.Deck = p.Deck[1:]
		p.Hand = append(p.Hand, card)
	}
}

// RemoveFromHand removes and returns the card at handIndex.
func (p *PlayerState) RemoveFromHand(handIndex int) (string, bool) {
	if handIndex < 0 || handIndex >= len(p.Hand) {
		return "", false
	}
	card := p.Hand[handIndex]
	p.Hand = append(p.Hand[:handIndex], p.Hand[handIndex+1:]...)
	return card, true
}

// MergeOutcome describes a board merge triggered by a placement that
// brought three copies of the same card together.
type MergeOutcome struct {
	CardID         string
	ChosenIndex    int
	ClearedIndices []int
	NewStackCount  int
}

// PlaceOnBoard places cardID onto boardIndex, applying the merge rule: an
// empty slot takes the card at stackCount 1; a slot already holding the
// same card at stackCount < 2 increments; anything else is a placement
// conflict the caller must have already ruled out (action.BoardPlace checks
// slot occupancy and stack size first); PlaceOnBoard reports it with ok=false.
//
// If this placement brings the total copies of cardID across the whole
// board (summed over every slot holding it, stacked or not) to 3, every
// slot holding cardID is consolidated into the lowest index at stackCount
// 2 and a MergeOutcome is returned so the caller can emit BOARD_MERGE.
func (p *PlayerState) PlaceOnBoard(boardIndex int, cardID string) (*MergeOutcome, bool) {
	if boardIndex < 0 || boardIndex >= len(p.Board) {
		return nil, false
	}
	slot := p.Board[boardIndex]
	switch {
	case slot.Empty():
		p.Board[boardIndex] = BoardSlot{CardID: cardID, StackCount: 1}
	case slot.CardID == cardID && slot.StackCount < 2:
		p.Board[boardIndex].StackCount++
	default:
		return nil, false
	}

	return p.mergeIfThirdCopyExists(cardID), true
}

// mergeIfThirdCopyExists sums stackCount across every board slot holding
// cardID; once that total reaches 3 (regardless of how it's distributed
// across slots), all of those slots collapse into the lowest index at
// stackCount 2 and the rest are cleared.
func (p *PlayerState) mergeIfThirdCopyExists(cardID string) *MergeOutcome {
	total := 0
	var holders []int
	for i, s := range p.Board {
		if !s.Empty() && s.CardID == cardID {
			total += s.StackCount
			holders = append(holders, i)
		}
	}
	if total < 3 {
		return nil
	}

	chosen, cleared := holders[0], holders[1:]
	p.Board[chosen] = BoardSlot{CardID: cardID, StackCount: 2}
	for _, i := range cleared {
		p.Board[i] = BoardSlot{}
	}
	return &MergeOutcome{
		CardID:         cardID,
		ChosenIndex:    chosen,
		ClearedIndices: cleared,
		NewStackCount:  2,
	}
}

// SellFromBoard clears boardIndex and returns the card id that was there.
func (p *PlayerState) SellFromBoard(boardIndex int) (string, bool) {
	if boardIndex < 0 || boardIndex >= len(p.Board) {
		return "", false
	}
	slot := p.Board[boardIndex]
	if slot.Empty() {
		return "", false
	}
	p.Board[boardIndex] = BoardSlot{}
	return slot.CardID, true
}

// OccupiedSlots returns the board slots that hold a card.
func (p *PlayerState) OccupiedSlots() []BoardSlot {
	out := make([]BoardSlot, 0, len(p.Board))
	for _, s := range p.Board {
		if !s.Empty() {
			out = append(out, s)
		}
	}
	return out
}

// ConservationCount returns |deck|+|hand|+|discard|+occupied-board-card-
// instances, the quantity §3/§8 requires to stay constant across a round
// outside of shop buys/sells/reshuffles. Each occupied slot counts its
// stackCount as that many conserved instances.
func (p *PlayerState) ConservationCount() int {
	total := len(p.Deck) + len(p.Hand) + len(p.Discard)
	for _, s := range p.Board {
		if !s.Empty() {
			total += s.StackCount
		}
	}
	return total
}
