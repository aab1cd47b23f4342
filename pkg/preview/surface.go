package preview

type Source string

const (
	SourceLive        Source = "live"
	SourceCache       Source = "cache"
	SourceDraft       Source = "draft"
	SourcePlaceholder Source = "placeholder"
)

// State is what a surface renders.
type State struct {
	Source  Source  `json:"source"`
	Payload Payload `json:"payload"`
	Marker  string  `json:"marker,omitempty"`
	Seq     uint64  `json:"seq,omitempty"`
}

// Bootstrap picks the initial state of a surface. The most recent live
// message wins. Otherwise the cached snapshot is used when it has real
// content, then the server draft, then an explicit placeholder.
func Bootstrap(live, cached *Message, draft map[string]interface{}, plan string) State {
	if live != nil && live.Type == TypeUpdate && live.Payload != nil {
		return State{Source: SourceLive, Payload: *live.Payload, Marker: live.Marker, Seq: live.Seq}
	}
	if cached != nil && cached.Payload != nil && HasRealContent(cached.Payload.Form) {
		return State{Source: SourceCache, Payload: *cached.Payload, Marker: cached.Marker, Seq: cached.Seq}
	}
	if len(draft) > 0 {
		msg, err := NewUpdate(draft, plan)
		if err == nil {
			return State{Source: SourceDraft, Payload: *msg.Payload, Marker: msg.Marker}
		}
	}
	return State{
		Source:  SourcePlaceholder,
		Payload: Payload{Form: map[string]interface{}{}, Plan: plan, PreviewMode: true},
	}
}

// Surface tracks what a preview has applied so stale or repeated snapshots
// arriving through any channel are discarded.
type Surface struct {
	state State
	seq   uint64
}

func NewSurface(initial State) *Surface {
	return &Surface{state: initial, seq: initial.Seq}
}

func (s *Surface) State() State {
	return s.state
}

// Apply reports whether msg carried new content and was applied.
func (s *Surface) Apply(msg Message) bool {
	if msg.Type != TypeUpdate || msg.Payload == nil {
		return false
	}
	if msg.Marker != "" && msg.Marker == s.state.Marker {
		return false
	}
	if msg.Seq != 0 && msg.Seq <= s.seq {
		return false
	}
	if msg.Seq != 0 {
		s.seq = msg.Seq
	}
	s.state = State{Source: SourceLive, Payload: *msg.Payload, Marker: msg.Marker, Seq: s.seq}
	return true
}
