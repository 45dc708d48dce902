package analysis

import "encoding/json"

// View is the wire form of an Entry: the explicit state next to the status
// derived from it.
type View struct {
	State  State           `json:"state"`
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (e Entry) View() View {
	return View{State: e.State, Status: e.Status(), Result: e.Result, Error: e.Err}
}

// Report is the aggregated read of every feature known for a project.
type Report struct {
	ProjectID string           `json:"project_id"`
	Features  map[Feature]View `json:"features"`
}

func NewReport(projectID string, rs ResultSet) Report {
	r := Report{ProjectID: projectID, Features: make(map[Feature]View, len(rs))}
	for f, e := range rs {
		r.Features[f] = e.View()
	}
	return r
}

// UnmarshalJSON skips feature keys this build does not know, so a server that
// offers more analyses still yields a readable report.
func (r *Report) UnmarshalJSON(b []byte) error {
	var wire struct {
		ProjectID string          `json:"project_id"`
		Features  map[string]View `json:"features"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	r.ProjectID = wire.ProjectID
	r.Features = make(map[Feature]View, len(wire.Features))
	for key, v := range wire.Features {
		f, err := ParseFeature(key)
		if err != nil {
			continue
		}
		r.Features[f] = v
	}
	return nil
}

// ResultSet rebuilds the entries. Status is derived again from State and
// Result, so a view whose status disagrees with its payload cannot leak in.
func (r Report) ResultSet() ResultSet {
	rs := make(ResultSet, len(r.Features))
	for f, v := range r.Features {
		rs[f] = Entry{State: v.State, Result: v.Result, Err: v.Error}
	}
	return rs
}
