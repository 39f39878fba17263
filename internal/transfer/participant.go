package transfer

import (
	"encoding/json"
	"sort"
	"strings"
)

// Role is the part a participant plays in a call room.
type Role string

const (
	RoleUnknown        Role = ""
	RolePhoneLeg       Role = "phone-leg"
	RoleAgentLeg       Role = "agent-leg"
	RoleTransferTarget Role = "transfer-target"
)

// TransferIdentityPrefix names participants dialed in by a warm transfer.
const TransferIdentityPrefix = "transfer_"

// Participant is the provider-neutral view of a room member.
type Participant struct {
	Identity string
	Name     string
	Metadata string
	// JoinedAt is unix seconds.
	JoinedAt int64
	// SIP and Agent mirror the provider's participant kind when it reports one.
	SIP   bool
	Agent bool
}

type roleMetadata struct {
	Role Role `json:"role"`
}

// RoleMetadata encodes the join metadata carried by participants this service creates.
func RoleMetadata(r Role) string {
	b, _ := json.Marshal(roleMetadata{Role: r})
	return string(b)
}

// Classify returns the explicit role from the join metadata when present,
// otherwise it falls back to identity and kind heuristics.
func Classify(p Participant) Role {
	if p.Metadata != "" {
		var m roleMetadata
		if err := json.Unmarshal([]byte(p.Metadata), &m); err == nil {
			switch m.Role {
			case RolePhoneLeg, RoleAgentLeg, RoleTransferTarget:
				return m.Role
			}
		}
	}

	id := strings.ToLower(p.Identity)
	switch {
	case strings.HasPrefix(id, TransferIdentityPrefix):
		return RoleTransferTarget
	case p.Agent || strings.Contains(id, "agent"):
		return RoleAgentLeg
	case p.SIP,
		strings.HasPrefix(id, "sip_"),
		strings.HasPrefix(id, "phone-"),
		strings.HasPrefix(id, "+"),
		strings.Contains(strings.ToLower(p.Metadata), "sip"):
		return RolePhoneLeg
	}
	return RoleUnknown
}

// PhoneLeg picks the phone-side participant. With several candidates, for
// example while a warm transfer target is still ringing, the most recently
// joined phone leg wins.
func PhoneLeg(ps []Participant) (Participant, bool) {
	return latest(ps, RolePhoneLeg)
}

func AgentLeg(ps []Participant) (Participant, bool) {
	return latest(ps, RoleAgentLeg)
}

func latest(ps []Participant, r Role) (Participant, bool) {
	var matches []Participant
	for _, p := range ps {
		if Classify(p) == r {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return Participant{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].JoinedAt > matches[j].JoinedAt })
	return matches[0], true
}
