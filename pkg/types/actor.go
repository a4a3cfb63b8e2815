package types

import (
	"encoding/json"
	"fmt"
)

type ActorKind string

const (
	ActorKindAccount ActorKind = "Account"
)

// Actor is an identity that may be authorized to request a signature.
// New kinds of actor implement this interface and register in decodeActor.
type Actor interface {
	Kind() ActorKind
	Equal(other Actor) bool
	Validate() error
	String() string
}

// AccountActor is a ledger account authorized by its exact account id.
type AccountActor struct {
	AccountId AccountId `json:"account_id"`
}

var _ Actor = (*AccountActor)(nil)

func NewAccountActor(id AccountId) *AccountActor {
	return &AccountActor{AccountId: id}
}

func (a *AccountActor) Kind() ActorKind {
	return ActorKindAccount
}

func (a *AccountActor) Equal(other Actor) bool {
	o, ok := other.(*AccountActor)
	if !ok || o == nil || a == nil {
		return false
	}
	return a.AccountId == o.AccountId
}

func (a *AccountActor) Validate() error {
	return a.AccountId.Validate()
}

func (a *AccountActor) String() string {
	return fmt.Sprintf("%s(%s)", ActorKindAccount, a.AccountId)
}

// Actors is a list of actors serialized as externally tagged variants,
// e.g. [{"Account":{"account_id":"alice.near"}}].
type Actors []Actor

func (as Actors) MarshalJSON() ([]byte, error) {
	out := make([]map[ActorKind]Actor, 0, len(as))
	for _, a := range as {
		out = append(out, map[ActorKind]Actor{a.Kind(): a})
	}
	return json.Marshal(out)
}

func (as *Actors) UnmarshalJSON(data []byte) error {
	var raw []map[ActorKind]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode actors: %w", err)
	}
	result := make(Actors, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 1 {
			return fmt.Errorf("actor %d must have exactly one kind, got %d", i, len(entry))
		}
		for kind, body := range entry {
			actor, err := decodeActor(kind, body)
			if err != nil {
				return fmt.Errorf("actor %d: %w", i, err)
			}
			result = append(result, actor)
		}
	}
	*as = result
	return nil
}

func decodeActor(kind ActorKind, body json.RawMessage) (Actor, error) {
	switch kind {
	case ActorKindAccount:
		var a AccountActor
		if err := json.Unmarshal(body, &a); err != nil {
			return nil, err
		}
		return &a, nil
	default:
		return nil, fmt.Errorf("unknown actor kind %q", kind)
	}
}
