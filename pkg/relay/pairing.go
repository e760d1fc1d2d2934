package relay

import "sync"

// Pairings maintains the one-desktop-to-many-web association. A web
// client belongs to at most one desktop's set, determined by the OTP
// it presented. Empty sets are deleted, matching the behavior clients
// observe through remaining-connection counts.
type Pairings struct {
	mu        sync.RWMutex
	byDesktop map[string]map[string]struct{}
}

func NewPairings() *Pairings {
	return &Pairings{byDesktop: make(map[string]map[string]struct{})}
}

// InitDesktop creates an empty fan-out set for a newly registered
// desktop so a paired count of zero is representable before the first
// web client arrives.
func (p *Pairings) InitDesktop(desktopID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byDesktop[desktopID]; !ok {
		p.byDesktop[desktopID] = make(map[string]struct{})
	}
}

// Pair adds webID to the desktop's fan-out set, creating the set if
// absent, and returns the resulting set size. Pairing an already
// paired web client is a no-op.
func (p *Pairings) Pair(desktopID, webID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.byDesktop[desktopID]
	if !ok {
		set = make(map[string]struct{})
		p.byDesktop[desktopID] = set
	}
	set[webID] = struct{}{}
	return len(set)
}

// UnpairWeb removes webID from whichever desktop's set contains it.
// It returns the owning desktop ID and the remaining set size so the
// desktop can be notified of the departure.
func (p *Pairings) UnpairWeb(webID string) (desktopID string, remaining int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for did, set := range p.byDesktop {
		if _, member := set[webID]; member {
			delete(set, webID)
			remaining = len(set)
			if remaining == 0 {
				delete(p.byDesktop, did)
			}
			return did, remaining, true
		}
	}
	return "", 0, false
}

// UnpairDesktop removes the desktop's entire fan-out set and returns
// its members, for notifying and disconnecting every paired web client.
func (p *Pairings) UnpairDesktop(desktopID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.byDesktop[desktopID]
	if !ok {
		return nil
	}
	delete(p.byDesktop, desktopID)
	members := make([]string, 0, len(set))
	for id := range set {
		members = append(members, id)
	}
	return members
}

// FanoutTargets returns a snapshot of the desktop's current web peers.
// The copy keeps fan-out iteration safe against concurrent pair and
// unpair calls; iteration order is unspecified.
func (p *Pairings) FanoutTargets(desktopID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.byDesktop[desktopID]
	targets := make([]string, 0, len(set))
	for id := range set {
		targets = append(targets, id)
	}
	return targets
}

// Count returns the size of the desktop's fan-out set.
func (p *Pairings) Count(desktopID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byDesktop[desktopID])
}

// Total returns the number of pairings across all desktops.
func (p *Pairings) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, set := range p.byDesktop {
		total += len(set)
	}
	return total
}
