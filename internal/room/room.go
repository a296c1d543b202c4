// Package room implements Room: named-role message routing between
// agents using @mention tokens.
//
// Grounded on the teacher's internal/channels/context.DeliveryContext
// mention formatting (MentionFormat/"@%s" convention) and
// internal/policy/activation.go's "mention" activation mode, generalized
// from per-channel @mention *formatting* into cross-agent @mention
// *routing*: a Room holds role->agent bindings and forwards a message
// to every other role mentioned in it.
package room

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// Sender delivers text to the agent bound to a role, mirroring
// MessageQueue.Send's "user" kind.
type Sender interface {
	Send(ctx context.Context, agentID, text string) error
}

// Room routes @mention text between named roles.
type Room struct {
	sender Sender

	mu    sync.RWMutex
	roles map[string]string // roleName -> agentID
}

// New creates an empty Room.
func New(sender Sender) *Room {
	return &Room{sender: sender, roles: make(map[string]string)}
}

// Bind associates roleName with agentID, replacing any prior binding.
func (r *Room) Bind(roleName, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[roleName] = agentID
}

// Unbind removes a role's binding.
func (r *Room) Unbind(roleName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles, roleName)
}

// Roles returns a snapshot of the current role->agent bindings.
func (r *Room) Roles() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.roles))
	for k, v := range r.roles {
		out[k] = v
	}
	return out
}

// Say parses @mention tokens out of text and forwards text to every
// distinct mentioned role that has a binding, other than self. Loop
// prevention (a role mentioning itself) is left to the caller: Say
// simply never forwards to self.
func (r *Room) Say(ctx context.Context, self, text string) ([]string, error) {
	mentions := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(mentions) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	roles := make(map[string]string, len(r.roles))
	for k, v := range r.roles {
		roles[k] = v
	}
	r.mu.RUnlock()

	seen := make(map[string]struct{})
	var delivered []string
	for _, m := range mentions {
		role := m[1]
		if role == self {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		agentID, ok := roles[role]
		if !ok {
			continue
		}
		seen[role] = struct{}{}
		if r.sender == nil {
			continue
		}
		if err := r.sender.Send(ctx, agentID, text); err != nil {
			return delivered, fmt.Errorf("room: deliver to %q: %w", role, err)
		}
		delivered = append(delivered, role)
	}
	return delivered, nil
}
