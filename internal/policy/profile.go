package policy

// Task profile names.
const (
	ProfileChat     = "chat"
	ProfileEdit     = "edit"
	ProfileResearch = "research"
	ProfileBulk     = "bulk"
)

// TaskProfile carries request hints derived from the user text.
type TaskProfile struct {
	Name                 string
	Background           bool
	PromptCacheRetention string
}

// ResolveTaskProfile classifies a request. Bulk edits run as background jobs.
func ResolveTaskProfile(text string) TaskProfile {
	ws := words(fold(text))
	mutate := countMatches(ws, creationWords)+countMatches(ws, additionWords)+countMatches(ws, modifyWords) > 0
	switch {
	case mutate && countMatches(ws, bulkWords) > 0:
		return TaskProfile{Name: ProfileBulk, Background: true, PromptCacheRetention: "24h"}
	case mutate:
		return TaskProfile{Name: ProfileEdit, PromptCacheRetention: "24h"}
	case countMatches(ws, researchWords) > 0:
		return TaskProfile{Name: ProfileResearch, PromptCacheRetention: "in_memory"}
	}
	return TaskProfile{Name: ProfileChat, PromptCacheRetention: "in_memory"}
}
