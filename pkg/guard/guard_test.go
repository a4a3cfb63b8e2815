package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

func TestIsActorAllowed(t *testing.T) {
	req := &types.Request{
		AllowedActors: types.Actors{
			types.NewAccountActor("alice.near"),
			types.NewAccountActor("bob.near"),
		},
	}

	tests := []struct {
		name  string
		actor types.Actor
		want  bool
	}{
		{name: "first actor", actor: types.NewAccountActor("alice.near"), want: true},
		{name: "second actor", actor: types.NewAccountActor("bob.near"), want: true},
		{name: "stranger", actor: types.NewAccountActor("mallory.near"), want: false},
		{name: "prefix of an allowed account", actor: types.NewAccountActor("alice"), want: false},
		{name: "nil actor", actor: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsActorAllowed(req, tt.actor))
		})
	}

	assert.False(t, IsActorAllowed(nil, types.NewAccountActor("alice.near")))
}

func TestIsTimeExceeded(t *testing.T) {
	req := &types.Request{Deadline: 1_000}

	assert.False(t, IsTimeExceeded(req, 999))
	assert.False(t, IsTimeExceeded(req, 1_000), "deadline itself is still valid")
	assert.True(t, IsTimeExceeded(req, 1_001))
}
