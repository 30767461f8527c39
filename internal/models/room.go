package models

// RoomMeta is the immutable creation record of a room. RoomName is not
// re-editable in the current scope. LastActivity is a maintenance
// marker stamped when a cleanup pass finds no active members left.
type RoomMeta struct {
	CreatedBy    string `json:"createdBy"`
	CreatedAt    int64  `json:"createdAt"` // epoch milliseconds
	RoomName     string `json:"roomName"`
	LastActivity int64  `json:"lastActivity,omitempty"`
}

// Room is a shared, code-addressed budget document with membership.
//
// Members has set semantics: presence of a key means membership and the
// value is always true; absence means non-member. A room with zero
// members must not persist; the last member's departure deletes the
// whole node in the same transaction.
//
// ActiveMembers is the liveness sub-tree. Its lifecycle is independent
// of Members: entries are best-effort and may outlive actual liveness
// by up to one cleanup cycle.
type Room struct {
	Meta          RoomMeta                  `json:"meta"`
	BudgetData    BudgetData                `json:"budgetData,omitempty"`
	Members       map[string]bool           `json:"members,omitempty"`
	ActiveMembers map[string]MemberPresence `json:"activeMembers,omitempty"`
}

// MemberPresence is one liveness record under a room's activeMembers
// sub-tree. LastSeen is refreshed by the heartbeat while the member is
// active and flipped together with IsActive by the disconnect write.
type MemberPresence struct {
	UserID   string `json:"userId"`
	JoinedAt int64  `json:"joinedAt"` // epoch milliseconds
	LastSeen int64  `json:"lastSeen"` // epoch milliseconds
	IsActive bool   `json:"isActive"`
}
