package orchestrator

import (
	"github.com/sells-group/enrichment-cli/internal/model"
)

// SelectModules resolves the modules a job runs, in execution order. An
// empty request means every module; mandatory modules are always included
// and unknown names are dropped.
func SelectModules(requested []model.ModuleName) []model.ModuleName {
	if len(requested) == 0 {
		return append([]model.ModuleName(nil), model.AllModules...)
	}
	want := make(map[model.ModuleName]bool, len(requested))
	for _, m := range requested {
		want[m] = true
	}
	var out []model.ModuleName
	for _, m := range model.AllModules {
		if want[m] || m.Mandatory() {
			out = append(out, m)
		}
	}
	return out
}

// callCost is the number of rate-limited AI calls a module spends in the
// worst case.
func callCost(m model.ModuleName, perCall int) int {
	if m == model.ModuleRegistryFinancials {
		return 0
	}
	return perCall
}

// Plan splits modules into two ordered batches. Batch one takes modules in
// order while the summed call cost stays within budget; mandatory modules
// always go first regardless of budget. Everything else waits for batch two.
func Plan(modules []model.ModuleName, budget, perCall int) [2][]model.ModuleName {
	if perCall <= 0 {
		perCall = 1
	}
	var batches [2][]model.ModuleName
	spent := 0
	overflow := false
	for _, m := range modules {
		if m.Mandatory() {
			batches[0] = append(batches[0], m)
			spent += callCost(m, perCall)
		}
	}
	for _, m := range modules {
		if m.Mandatory() {
			continue
		}
		cost := callCost(m, perCall)
		if !overflow && spent+cost <= budget {
			batches[0] = append(batches[0], m)
			spent += cost
			continue
		}
		overflow = true
		batches[1] = append(batches[1], m)
	}
	return batches
}
