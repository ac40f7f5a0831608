package lightcurve

// MinEpochs is the policy minimum of quality-passing observations per filter.
const MinEpochs = 3

// SelectionGate applies the basic cuts that must hold before any fitting:
// every required filter is present and carries at least MinEpochs
// observations at or above QualityThreshold.
type SelectionGate struct {
	Filters          []string
	QualityThreshold float64
	MinEpochs        int
}

// Evaluate returns true when the record passes every cut.
func (g SelectionGate) Evaluate(rec *Record) bool {
	return g.Check(rec) == nil
}

// Check returns nil when the record passes, or a GateRejection naming the
// first failing filter in declared order.
func (g SelectionGate) Check(rec *Record) error {
	minEpochs := g.MinEpochs
	if minEpochs <= 0 {
		minEpochs = MinEpochs
	}

	for _, f := range g.Filters {
		if _, ok := rec.Filter(f); !ok {
			return &GateRejection{Gate: GateBasicCuts, Reason: ReasonMissingFilter, Filter: f}
		}
	}

	for _, f := range g.Filters {
		s, _ := rec.Filter(f)
		if s.AboveQuality(g.QualityThreshold).Len() < minEpochs {
			return &GateRejection{Gate: GateBasicCuts, Reason: ReasonInsufficientEpochs, Filter: f}
		}
	}
	return nil
}
