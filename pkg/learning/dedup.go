package learning

// dedupLimit caps one dedup generation. With two generations resident the
// scorer remembers at most twice this many ids before the oldest age out.
const dedupLimit = 4096

// dedupSet is a two-generation string set. Once the live generation fills it
// rotates, dropping entries older than one full generation. This bounds the
// event and survey dedup memory the way the retention sweeper bounds the
// store: old ids are eventually forgotten, recent ones always dedup.
type dedupSet struct {
	limit int
	live  map[string]struct{}
	prev  map[string]struct{}
}

func newDedupSet(limit int) *dedupSet {
	return &dedupSet{limit: limit, live: make(map[string]struct{}, limit)}
}

// Add inserts the key, reporting false when it was already present.
func (d *dedupSet) Add(key string) bool {
	if _, ok := d.live[key]; ok {
		return false
	}
	if _, ok := d.prev[key]; ok {
		return false
	}
	if len(d.live) >= d.limit {
		d.prev = d.live
		d.live = make(map[string]struct{}, d.limit)
	}
	d.live[key] = struct{}{}
	return true
}

func (d *dedupSet) len() int { return len(d.live) + len(d.prev) }
