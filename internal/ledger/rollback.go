package ledger

import "sort"

// rollbackRank orders rollback deletions: auto-scaling-group deletes go
// before launch-template deletes before instance terminates, the reverse of
// how provisioning layers them. Everything else keeps reverse insertion
// order after these.
func rollbackRank(resourceType string) int {
	switch resourceType {
	case TypeAutoScalingGroup:
		return 0
	case TypeLaunchTemplate:
		return 1
	case TypeInstance:
		return 2
	default:
		return 3
	}
}

// RollbackPlan returns the created resources of a session in deletion order.
// Resources that were already retired in the same session are excluded.
func RollbackPlan(entries []Entry) []ResourceRef {
	retired := make(map[string]bool)
	for _, e := range entries {
		if e.Event == EventRetired {
			retired[e.Ref.ResourceType+"/"+e.Ref.ResourceID] = true
		}
	}

	var refs []ResourceRef
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Event != EventCreated {
			continue
		}
		if retired[e.Ref.ResourceType+"/"+e.Ref.ResourceID] {
			continue
		}
		refs = append(refs, e.Ref)
	}

	sort.SliceStable(refs, func(i, j int) bool {
		return rollbackRank(refs[i].ResourceType) < rollbackRank(refs[j].ResourceType)
	})
	return refs
}
