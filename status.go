package lotus

import "time"

// ModuleStatus is one module's entry in a status snapshot.
type ModuleStatus struct {
	Name          string      `json:"name"`
	Version       string      `json:"version"`
	Type          ModuleType  `json:"type"`
	State         ModuleState `json:"state"`
	Healthy       bool        `json:"healthy"`
	LastHeartbeat time.Time   `json:"lastHeartbeat"`
	Tools         []string    `json:"tools,omitempty"`
}

// LoadFailure describes one module that failed to load during boot.
type LoadFailure struct {
	Module string `json:"module"`
	Phase  string `json:"phase"`
	Error  string `json:"error"`
}

// StatusReport is a point-in-time diagnostic snapshot of the nucleus. A
// running system with some modules failed to load keeps serving the
// modules that did load; the failure list is surfaced here.
type StatusReport struct {
	State     NucleusState   `json:"state"`
	StartedAt time.Time      `json:"startedAt,omitempty"`
	Uptime    time.Duration  `json:"uptime,omitempty"`
	LoadOrder []string       `json:"loadOrder"`
	Modules   []ModuleStatus `json:"modules"`
	Failures  []LoadFailure  `json:"failures"`
}

// Status assembles a diagnostic snapshot. The probe refreshes each
// module's heartbeat as a side effect, like the health loop does.
func (n *Nucleus) Status() StatusReport {
	n.mu.Lock()
	state := n.state
	startedAt := n.startedAt
	order := make([]string, len(n.loadOrder))
	copy(order, n.loadOrder)
	failures := make([]LoadFailure, 0, len(n.failures))
	for _, f := range n.failures {
		failures = append(failures, LoadFailure{Module: f.Module, Phase: f.Phase, Error: f.Err.Error()})
	}
	n.mu.Unlock()

	report := StatusReport{
		State:     state,
		StartedAt: startedAt,
		LoadOrder: order,
		Failures:  failures,
	}
	if state == NucleusRunning {
		report.Uptime = time.Since(startedAt)
	}

	for _, name := range order {
		n.mu.Lock()
		runner := n.runners[name]
		n.mu.Unlock()
		if runner == nil {
			continue
		}
		desc := runner.Descriptor()
		report.Modules = append(report.Modules, ModuleStatus{
			Name:          desc.Name,
			Version:       desc.Version,
			Type:          desc.Type,
			State:         runner.State(),
			Healthy:       runner.HealthCheck(),
			LastHeartbeat: runner.LastHeartbeat(),
			Tools:         runner.Tools(),
		})
	}
	return report
}
