package access

// Capabilities checked before privileged ledger mutations. The ledger itself
// never inspects role names, only asks the gate.
const (
	CapGrantCredits = "grant_credits"
	CapApproveTopUp = "approve_topup"
)

// Gate answers capability checks for a role. Read-only and side-effect free.
type Gate interface {
	HasCapability(role, capability string) bool
}

// StaticGate is a map-backed Gate built from a role -> capabilities table.
type StaticGate struct {
	grants map[string]map[string]bool
}

func NewStaticGate(grants map[string][]string) *StaticGate {
	g := &StaticGate{grants: make(map[string]map[string]bool, len(grants))}
	for role, caps := range grants {
		set := make(map[string]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		g.grants[role] = set
	}
	return g
}

// DefaultGrants is the platform's standard role table. Supervisory roles hold
// both ledger capabilities; regular members hold none.
func DefaultGrants() map[string][]string {
	return map[string][]string{
		"admin":     {CapGrantCredits, CapApproveTopUp},
		"moderator": {CapApproveTopUp},
	}
}

func (g *StaticGate) HasCapability(role, capability string) bool {
	return g.grants[role][capability]
}
