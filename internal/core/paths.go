package core

import "fmt"

// Path layout in the remote tree. These are the only places the
// persisted structure is spelled out.
func roomPath(code string) string        { return fmt.Sprintf("rooms/%s", code) }
func roomMetaPath(code string) string    { return fmt.Sprintf("rooms/%s/meta", code) }
func roomBudgetPath(code string) string  { return fmt.Sprintf("rooms/%s/budgetData", code) }
func roomMembersPath(code string) string { return fmt.Sprintf("rooms/%s/members", code) }

func roomMemberPath(code, userID string) string {
	return fmt.Sprintf("rooms/%s/members/%s", code, userID)
}

func activeMembersPath(code string) string {
	return fmt.Sprintf("rooms/%s/activeMembers", code)
}

func activeMemberPath(code, userID string) string {
	return fmt.Sprintf("rooms/%s/activeMembers/%s", code, userID)
}

func lastSeenPath(code, userID string) string {
	return fmt.Sprintf("rooms/%s/activeMembers/%s/lastSeen", code, userID)
}

func lastActivityPath(code string) string {
	return fmt.Sprintf("rooms/%s/meta/lastActivity", code)
}

func ownedRoomPath(userID string) string {
	return fmt.Sprintf("users/%s/createdRoomId", userID)
}

func personalBudgetPath(userID string) string {
	return fmt.Sprintf("users/%s/personalBudget", userID)
}
