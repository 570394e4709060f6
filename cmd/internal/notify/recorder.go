package notify

import (
	"context"
	"sync"
)

// Sent is one captured notification.
type Sent struct {
	Kind   string // "verification" or "invite"
	To     string
	Token  string
	Invite Invitation
}

// Recorder captures notifications in memory. Fail, when set, is returned from every send.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Fail error
}

func (r *Recorder) SendVerification(_ context.Context, to, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, Sent{Kind: "verification", To: to, Token: token})
	return nil
}

func (r *Recorder) SendInvite(_ context.Context, inv Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, Sent{Kind: "invite", To: inv.To, Invite: inv})
	return nil
}

// Sent returns a copy of everything captured so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Last returns the most recent capture of kind.
func (r *Recorder) Last(kind string) (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind {
			return r.sent[i], true
		}
	}
	return Sent{}, false
}

var _ Notifier = (*Recorder)(nil)
