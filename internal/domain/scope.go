package domain

import "strconv"

// Scope selects which role memberships apply: the global set or the set held
// within one streamer's channel. The two are never merged.
type Scope struct {
	streamerID uint
}

func GlobalScope() Scope { return Scope{} }

// StreamerScope scopes evaluation to a streamer. Zero yields the global scope.
func StreamerScope(streamerID uint) Scope { return Scope{streamerID: streamerID} }

func (s Scope) IsGlobal() bool { return s.streamerID == 0 }

// ContextID is the value stored in user_roles.context_id.
func (s Scope) ContextID() uint { return s.streamerID }

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "streamer:" + strconv.FormatUint(uint64(s.streamerID), 10)
}
