package planner

// ResolveVisibility computes, for every section in defs, whether it should
// currently be shown. The service runs permanently in the always-unlocked
// mode: a section is visible unless it belongs to a toggle category and is
// not that category's active id. The function is total over its inputs; an
// active id that matches no definition simply hides every section of that
// category.
func ResolveVisibility(defs []SectionDefinition, toggles ToggleState) map[string]bool {
	visible := make(map[string]bool, len(defs))
	for _, def := range defs {
		switch def.Category {
		case CategoryApproach:
			visible[def.ID] = def.ID == toggles.Approach
		case CategoryDataMethod:
			visible[def.ID] = def.ID == toggles.DataMethod
		default:
			visible[def.ID] = true
		}
	}
	return visible
}
