package lotus

// ResolveLoadOrder computes a deterministic, dependency-respecting load
// order over the given descriptors using Kahn's algorithm. The descriptors
// slice is in discovery order, which doubles as the tie-break: whenever
// several modules are simultaneously ready, the one discovered first is
// placed first, so identical input always yields an identical order.
//
// Dependency names that don't match any discovered module are dropped with
// a warning rather than failing resolution. A cycle yields a
// *CircularDependencyError naming every module left unresolved, and no
// partial order is returned.
func ResolveLoadOrder(descriptors []*ModuleDescriptor, logger Logger) ([]string, error) {
	known := make(map[string]*ModuleDescriptor, len(descriptors))
	for _, desc := range descriptors {
		known[desc.Name] = desc
	}

	// In-degree counts only edges whose dependency target exists among
	// discovered modules; dependents maps dependency -> dependent names.
	inDegree := make(map[string]int, len(descriptors))
	dependents := make(map[string][]string, len(descriptors))
	for _, desc := range descriptors {
		inDegree[desc.Name] = 0
	}
	for _, desc := range descriptors {
		for _, dep := range desc.Dependencies {
			if _, exists := known[dep]; !exists {
				logger.Warn("Dropping unknown dependency",
					"module", desc.Name, "dependency", dep)
				continue
			}
			inDegree[desc.Name]++
			dependents[dep] = append(dependents[dep], desc.Name)
		}
	}

	// Seed the ready queue in discovery order; appended nodes keep the
	// order in which they become ready.
	var queue []string
	for _, desc := range descriptors {
		if inDegree[desc.Name] == 0 {
			queue = append(queue, desc.Name)
		}
	}

	order := make([]string, 0, len(descriptors))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) < len(descriptors) {
		placed := make(map[string]bool, len(order))
		for _, name := range order {
			placed[name] = true
		}
		var unresolved []string
		for _, desc := range descriptors {
			if !placed[desc.Name] {
				unresolved = append(unresolved, desc.Name)
			}
		}
		return nil, &CircularDependencyError{Unresolved: unresolved}
	}

	logger.Debug("Module load order resolved", "order", order)
	return order, nil
}
