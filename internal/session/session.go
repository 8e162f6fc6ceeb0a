// Package session derives stable prompt-cache keys for turns.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/n0madic/go-turnkit/internal/types"
)

// DefaultMaxEntries bounds the fingerprint table.
const DefaultMaxEntries = 10000

// Keys maps request fingerprints to prompt-cache keys.
type Keys struct {
	mu         sync.Mutex
	byPrint    map[string]string
	order      []string
	maxEntries int
}

// NewKeys creates an empty key table.
func NewKeys(maxEntries int) *Keys {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Keys{byPrint: make(map[string]string), maxEntries: maxEntries}
}

// CacheKey returns a prompt-cache key for a turn. A supplied key is returned
// as-is. Otherwise turns with the same instructions and chat share a key. With
// no chat id the rounds of one turn share a key, and with neither id the first
// user message stands in.
func (k *Keys) CacheKey(instructions, chatID, turnID string, input []types.InputItem, supplied string) string {
	if supplied != "" {
		return supplied
	}
	fp := fingerprint(canonicalizePrefix(instructions, chatID, turnID, input))

	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.byPrint[fp]; ok {
		return key
	}
	key := uuid.New().String()
	k.byPrint[fp] = key
	k.order = append(k.order, fp)
	if len(k.order) > k.maxEntries {
		oldest := k.order[0]
		copy(k.order, k.order[1:])
		k.order[len(k.order)-1] = ""
		k.order = k.order[:len(k.order)-1]
		delete(k.byPrint, oldest)
	}
	return key
}

// Len returns the number of tracked fingerprints.
func (k *Keys) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.byPrint)
}

// canonicalizePrefix uses only the parts that stay fixed across a chat's turns.
func canonicalizePrefix(instructions, chatID, turnID string, input []types.InputItem) string {
	prefix := make(map[string]string)
	if instructions != "" {
		prefix["instructions"] = instructions
	}
	switch {
	case chatID != "":
		prefix["chat_id"] = chatID
	case turnID != "":
		prefix["turn_id"] = turnID
	default:
		if first := firstUserText(input); first != "" {
			prefix["first_user_message"] = first
		}
	}
	// json.Marshal sorts map keys.
	data, _ := json.Marshal(prefix)
	return string(data)
}

func firstUserText(input []types.InputItem) string {
	for _, item := range input {
		if item.Type != "message" || item.Role != "user" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "input_text" && part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

func fingerprint(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
