package chatsync

// Conversation identity resolution.
//
// A direct conversation created optimistically and its later server-confirmed
// counterpart share a participant pair before they share an identifier.
// Keying direct conversations on the sorted participant pair is what keeps
// the same thread from appearing twice during the optimistic-to-confirmed
// transition. Group conversations are never keyed by membership: two distinct
// channels may hold identical member sets.

// KeyOf computes the canonical identity key for a conversation. For a
// two-participant non-group conversation the key is the sorted, joined pair
// of participant IDs; for anything else it is the conversation's own ID.
func KeyOf(c Conversation) string {
	if c.IsGroup || len(c.Participants) != 2 {
		return c.ID
	}
	a, b := c.Participants[0].UserID, c.Participants[1].UserID
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Dedupe collapses conversations that resolve to the same identity key,
// preserving first-occurrence order. When a later duplicate is
// server-confirmed and the entry already holding the slot is a local
// placeholder, the confirmed one takes the slot: the server copy is
// canonical.
func Dedupe(convs []Conversation) []Conversation {
	out := make([]Conversation, 0, len(convs))
	index := make(map[string]int, len(convs))

	for _, c := range convs {
		key := KeyOf(c)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, c)
			continue
		}
		if IsLocalID(out[i].ID) && !IsLocalID(c.ID) {
			out[i] = c
		}
	}
	return out
}
