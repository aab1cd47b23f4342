// Package preview propagates unsaved editor state to live preview surfaces.
//
// The editor side broadcasts full snapshots through a Bus, which fans out to
// every registered Sink and keeps the last snapshot in a Cache. A preview
// Surface applies snapshots idempotently and bootstraps from the best source
// available when it connects late.
package preview

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const (
	TypeUpdate = "preview:update"
	TypePing   = "preview:ping"
)

type Payload struct {
	Form        map[string]interface{} `json:"form"`
	Plan        string                 `json:"plan,omitempty"`
	PreviewMode bool                   `json:"previewMode"`
}

type Message struct {
	Type    string   `json:"type"`
	Payload *Payload `json:"payload,omitempty"`
	// Marker identifies the snapshot content. Equal markers mean equal content.
	Marker string `json:"marker,omitempty"`
	// Seq orders snapshots of one owner.
	Seq uint64 `json:"seq,omitempty"`
	// Origin is the process that broadcast the message.
	Origin string `json:"origin,omitempty"`
}

// NewUpdate serialises form and plan into an update message.
func NewUpdate(form map[string]interface{}, plan string) (Message, error) {
	if form == nil {
		form = map[string]interface{}{}
	}
	payload := &Payload{Form: form, Plan: plan, PreviewMode: true}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	sum := sha256.Sum256(raw)
	return Message{
		Type:    TypeUpdate,
		Payload: payload,
		Marker:  hex.EncodeToString(sum[:]),
	}, nil
}

func Ping() Message {
	return Message{Type: TypePing}
}

// HasRealContent reports whether form holds anything worth rendering: a name,
// a link, a featured item or an avatar.
func HasRealContent(form map[string]interface{}) bool {
	if form == nil {
		return false
	}
	if profile, ok := form["profile"].(map[string]interface{}); ok && hasRealContent(profile) {
		return true
	}
	return hasRealContent(form)
}

func hasRealContent(m map[string]interface{}) bool {
	for _, key := range []string{"fullName", "name", "avatar"} {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return true
		}
	}
	for _, key := range []string{"links", "featured"} {
		if items, ok := m[key].([]interface{}); ok && len(items) > 0 {
			return true
		}
	}
	return false
}
