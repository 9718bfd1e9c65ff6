package gallery

import "sync"

// Preview tracks which item is playing its hover preview. At most one item previews at a time.
type Preview struct {
	mu     sync.Mutex
	active string
}

// NewPreview returns an idle Preview.
func NewPreview() *Preview {
	return &Preview{}
}

// Enter starts previewing id and returns the item that was previewing before, if any.
func (p *Preview) Enter(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.active
	p.active = id

	return prev
}

// Leave stops the preview of id. Leaving an item that is not previewing has no effect, so a
// late leave event from an old item does not stop the current one.
func (p *Preview) Leave(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != id || id == "" {
		return false
	}

	p.active = ""

	return true
}

// Clear stops any preview.
func (p *Preview) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = ""
}

// Active returns the previewing item id, or "".
func (p *Preview) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.active
}
