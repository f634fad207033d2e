package playback

import (
	"sort"

	"github.com/chazu/millwright/pkg/scene"
)

// slot is one arena cell. A dead slot is on the free list.
type slot struct {
	id    string
	proxy scene.Proxy
	live  bool
}

// registry maps engine mesh ids to proxies. Slots are reused so a long
// simulation that adds and removes meshes does not grow the arena.
// Access goes through lookup; nothing else hands out proxies.
type registry struct {
	slots []slot
	index map[string]int
	free  []int
}

func newRegistry() *registry {
	return &registry{index: make(map[string]int)}
}

func (r *registry) lookup(id string) (scene.Proxy, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.slots[i].proxy, true
}

// put registers p under id. The caller has already destroyed any proxy
// previously registered under the same id.
func (r *registry) put(id string, p scene.Proxy) {
	if i, ok := r.index[id]; ok {
		r.slots[i].proxy = p
		return
	}
	s := slot{id: id, proxy: p, live: true}
	if n := len(r.free); n > 0 {
		i := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[i] = s
		r.index[id] = i
		return
	}
	r.index[id] = len(r.slots)
	r.slots = append(r.slots, s)
}

// drop unregisters id and returns its proxy.
func (r *registry) drop(id string) (scene.Proxy, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	p := r.slots[i].proxy
	r.slots[i] = slot{}
	r.free = append(r.free, i)
	delete(r.index, id)
	return p, true
}

// ids returns the registered ids, sorted.
func (r *registry) ids() []string {
	out := make([]string, 0, len(r.index))
	for id := range r.index {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *registry) len() int { return len(r.index) }

// reset destroys every proxy and empties the arena.
func (r *registry) reset() {
	for _, s := range r.slots {
		if s.live {
			s.proxy.Destroy()
		}
	}
	r.slots = r.slots[:0]
	r.free = r.free[:0]
	clear(r.index)
}
