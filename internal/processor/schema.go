package processor

// Token roles.
const (
	RoleOwner     = "Owner"
	RoleOptimiser = "Optimiser"
	RoleMemberA   = "MemberA"
	RoleMemberB   = "MemberB"
)

// Token metadata keys.
const (
	KeyVersion    = "version"
	KeyType       = "type"
	KeyState      = "state"
	KeySubtype    = "subtype"
	KeyParameters = "parameters" // FILE, demand parameters
	KeyDemandA    = "demandA"    // TOKEN_ID
	KeyDemandB    = "demandB"    // TOKEN_ID
	KeyReplaces   = "replaces"   // TOKEN_ID of the replaced match2
	KeyComment    = "comment"    // FILE, demand comment or cancellation reason
)

// Token type literals.
const (
	TypeDemand = "DEMAND"
	TypeMatch2 = "MATCH2"
)

// SchemaVersion is written to every token under KeyVersion.
const SchemaVersion = "1"
