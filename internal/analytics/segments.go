package analytics

// Segment identifies one of the fixed sub-populations snapshotted per day.
type Segment string

const (
	// SegmentAll is any event with a resolvable identity.
	SegmentAll Segment = "all"
	// SegmentAppOpened is app-open events only.
	SegmentAppOpened Segment = "app_opened"
	// SegmentProduct is substantive in-product actions by signed-in users
	// (everything except opens and page views).
	SegmentProduct Segment = "product"
	// SegmentGrimoire is activity inside the grimoire content area.
	SegmentGrimoire Segment = "grimoire"
	// SegmentReach is the broadest marketing/acquisition-touch population.
	SegmentReach Segment = "reach"
)

// Segments lists every defined segment. Phase 1 writes exactly one snapshot
// row per entry for each computed day; iteration order is fixed so runs are
// reproducible.
var Segments = []Segment{
	SegmentAll,
	SegmentAppOpened,
	SegmentProduct,
	SegmentGrimoire,
	SegmentReach,
}

// segmentSpec carries a segment's filter predicate and resolution mode as
// data, so the snapshot builder iterates segments uniformly instead of
// branching per call site.
type segmentSpec struct {
	DisplayName string
	// FilterSQL is appended to the snapshot query's WHERE clause. It may
	// only reference the conversion_events alias "ce" and uses no bind
	// parameters.
	FilterSQL string
	// SignedInOnly restricts identity resolution to signed-in users:
	// anonymous ids are never counted, even as a fallback.
	SignedInOnly bool
}

var segmentSpecs = map[Segment]segmentSpec{
	SegmentAll: {
		DisplayName: "All activity",
	},
	SegmentAppOpened: {
		DisplayName: "App opened",
		FilterSQL:   "AND ce.event_type = 'app_opened'",
	},
	SegmentProduct: {
		DisplayName:  "Signed-in product",
		FilterSQL:    "AND ce.event_type NOT IN ('app_opened', 'page_viewed')",
		SignedInOnly: true,
	},
	SegmentGrimoire: {
		DisplayName: "Grimoire",
		FilterSQL:   "AND ce.page_path LIKE '/grimoire%'",
	},
	SegmentReach: {
		DisplayName: "Reach",
		FilterSQL:   "AND ce.event_type IN ('page_viewed', 'app_opened', 'cta_clicked', 'user_signed_up')",
	},
}

// Spec returns the segment's predicate and resolution mode.
func (s Segment) Spec() segmentSpec {
	return segmentSpecs[s]
}

// Valid reports whether s is one of the defined segments.
func (s Segment) Valid() bool {
	_, ok := segmentSpecs[s]
	return ok
}
