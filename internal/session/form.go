package session

import (
	"fieldconfig-backend/internal/fieldconfig"
	"fieldconfig-backend/internal/grouping"
)

// GroupView is one rendered section.
type GroupView struct {
	Name     string                   `json:"name"`
	Expanded bool                     `json:"expanded"`
	Fields   []fieldconfig.Descriptor `json:"fields"`
}

// FormView is the read model consumed by form renderers: displayed fields
// only, grouped and ordered. Disabled fields are read-only and array
// defaults are editable slot lists.
type FormView struct {
	Groups []GroupView `json:"groups"`
}

// Form builds the form read model from displayed fields.
func (s *Session) Form() FormView {
	return s.view(s.fields.Snapshot().Displayed())
}

// Groups builds the same view over every field, for the configuration
// editor.
func (s *Session) Groups() FormView {
	return s.view(s.fields.Snapshot())
}

func (s *Session) view(seq fieldconfig.Sequence) FormView {
	groups := s.grouping.Group(seq)
	out := FormView{Groups: make([]GroupView, 0, len(groups))}
	for _, g := range groups {
		out.Groups = append(out.Groups, GroupView{
			Name:     g.Name,
			Expanded: s.expand.Expanded(g.Name),
			Fields:   g.Fields,
		})
	}
	return out
}

// ToggleGroup flips one group's expand state.
func (s *Session) ToggleGroup(name string) bool {
	return s.expand.Toggle(name)
}

// SetAllGroups expands or collapses every group.
func (s *Session) SetAllGroups(expanded bool) {
	s.expand.SetAll(expanded)
}

// Assignment exposes the key to group mapping of the active sequence.
func (s *Session) Assignment() grouping.Assignment {
	return s.grouping.Assign(s.fields.Snapshot())
}
