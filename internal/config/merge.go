package config

// Merge produces the server list that should take effect after a reload: it
// keeps the new document's global sections verbatim and, server by server,
// replaces or adds entries from next while leaving servers absent from next
// untouched in removed (so callers can decide whether a disappearing server
// means "stop monitoring" or "config typo").
//
// Grounded on the teacher's config reload merge: existing entries are
// replaced wholesale rather than field-merged, since a ServerConfig is
// small enough that a partial field merge would hide stale values.
func Merge(current, next *Config) (merged *Config, added, changed, removed []string) {
	merged = next

	curByName := make(map[string]ServerConfig, len(current.Servers))
	for _, s := range current.Servers {
		curByName[s.Name] = s
	}
	nextByName := make(map[string]bool, len(next.Servers))
	for _, s := range next.Servers {
		nextByName[s.Name] = true
		if old, ok := curByName[s.Name]; !ok {
			added = append(added, s.Name)
		} else if !sameServer(old, s) {
			changed = append(changed, s.Name)
		}
	}
	for name := range curByName {
		if !nextByName[name] {
			removed = append(removed, name)
		}
	}
	return merged, added, changed, removed
}

func sameServer(a, b ServerConfig) bool {
	if a.Name != b.Name || a.MCPEndpointURL != b.MCPEndpointURL ||
		a.RESTHealthEndpointURL != b.RESTHealthEndpointURL ||
		a.MCPEnabled != b.MCPEnabled || a.RESTEnabled != b.RESTEnabled ||
		a.AggregationMode != b.AggregationMode ||
		a.RequireBothSuccessForHealthy != b.RequireBothSuccessForHealthy ||
		a.Auth.Type != b.Auth.Type {
		return false
	}
	if len(a.MCPExpectedTools) != len(b.MCPExpectedTools) {
		return false
	}
	for i := range a.MCPExpectedTools {
		if a.MCPExpectedTools[i] != b.MCPExpectedTools[i] {
			return false
		}
	}
	return true
}
