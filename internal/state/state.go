package state

import "encoding/json"

// GameState is the nested category -> attribute -> value mapping associated
// with exactly one session. The store hands out deep copies only; callers
// never see shared mutable structure.
type GameState map[string]map[string]Value

// EntityAttributeUpdate is a single attribute change produced by resolving an
// action. Updates are only ever constructed from function results, never by
// clients.
type EntityAttributeUpdate struct {
	EntityID  string `json:"entityId"`
	Category  string `json:"category"`
	Attribute string `json:"attribute"`
	Previous  *Value `json:"previous,omitempty"`
	Value     Value  `json:"value"`
	Rejected  bool   `json:"rejected,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewGameState returns an empty state.
func NewGameState() GameState {
	return GameState{}
}

// Clone returns a deep copy of s.
func (s GameState) Clone() GameState {
	out := make(GameState, len(s))
	for category, attrs := range s {
		copied := make(map[string]Value, len(attrs))
		for name, v := range attrs {
			copied[name] = v.Clone()
		}
		out[category] = copied
	}
	return out
}

// Get looks up a single attribute.
func (s GameState) Get(category, attribute string) (Value, bool) {
	attrs, ok := s[category]
	if !ok {
		return Value{}, false
	}
	v, ok := attrs[attribute]
	return v, ok
}

// Set writes a single attribute, creating the category if needed.
func (s GameState) Set(category, attribute string, v Value) {
	attrs, ok := s[category]
	if !ok {
		attrs = make(map[string]Value)
		s[category] = attrs
	}
	attrs[attribute] = v
}

// Apply writes a batch of updates in order. When a batch targets the same
// attribute more than once the last write in batch order wins. Rejected
// updates are skipped.
func (s GameState) Apply(updates []EntityAttributeUpdate) {
	for _, u := range updates {
		if u.Rejected {
			continue
		}
		s.Set(u.Category, u.Attribute, u.Value.Clone())
	}
}

// Equal reports deep equality between two states.
func (s GameState) Equal(other GameState) bool {
	if len(s) != len(other) {
		return false
	}
	for category, attrs := range s {
		oattrs, ok := other[category]
		if !ok || len(attrs) != len(oattrs) {
			return false
		}
		for name, v := range attrs {
			ov, ok := oattrs[name]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the state as a nested JSON object.
func (s GameState) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]map[string]Value(s))
}

// UnmarshalJSON decodes a nested JSON object into the state.
func (s *GameState) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = GameState(raw)
	return nil
}
