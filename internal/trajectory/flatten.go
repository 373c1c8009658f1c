package trajectory

// BreakCategory is the category assigned to break rows.
const BreakCategory = ""

// Row is one line of a flattened table. Break rows carry no point data and
// mark a discontinuity between unrelated trajectories.
type Row struct {
	Break   bool   `json:"break,omitempty"`
	Subject string `json:"subject,omitempty"`
	TrackID string `json:"track_id,omitempty"`
	Point   Point  `json:"point"`
}

type Table []Row

func (t *Track) Flatten() Table {
	out := make(Table, len(t.points))
	for i, p := range t.points {
		out[i] = Row{Point: p.clone()}
	}
	return out
}

// Flatten concatenates the track tables with one break row between
// consecutive tracks.
func (ts *Tracks) Flatten() Table {
	out := make(Table, 0, ts.PointCount()+ts.Len()-1)
	for i, id := range ts.ids {
		if i > 0 {
			out = append(out, Row{Break: true})
		}
		for _, r := range ts.tracks[id].Flatten() {
			r.TrackID = id
			out = append(out, r)
		}
	}
	return out
}

// Flatten concatenates subject blocks, each followed by a trailing break
// row. Every row, break rows included, carries the subject of its block.
func (tc *TracksCollection) Flatten() Table {
	out := make(Table, 0, tc.PointCount()+tc.TrackCount())
	for _, s := range tc.subjects {
		for _, r := range tc.tracks[s].Flatten() {
			r.Subject = s
			out = append(out, r)
		}
		out = append(out, Row{Break: true, Subject: s})
	}
	return out
}

func (t Table) Breaks() int {
	n := 0
	for _, r := range t {
		if r.Break {
			n++
		}
	}
	return n
}

// Categories returns the subject of each row; break rows get BreakCategory.
func (t Table) Categories() []string {
	out := make([]string, len(t))
	for i, r := range t {
		if r.Break {
			out[i] = BreakCategory
			continue
		}
		out[i] = r.Subject
	}
	return out
}

// Subjects returns the distinct subject labels of point rows in first-seen
// order.
func (t Table) Subjects() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range t {
		if r.Break {
			continue
		}
		if _, ok := seen[r.Subject]; ok {
			continue
		}
		seen[r.Subject] = struct{}{}
		out = append(out, r.Subject)
	}
	return out
}

// Segments splits the table at break rows into runs of point rows.
func (t Table) Segments() []Table {
	var out []Table
	start := -1
	for i, r := range t {
		if r.Break {
			if start >= 0 {
				out = append(out, t[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, t[start:])
	}
	return out
}
