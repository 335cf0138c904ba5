package execution

import "github.com/meridianchain/meridian-node/errs"

// GasMeter tracks consumption and refunds for a single transaction,
// per spec §4.5 step 6: "overflow-safe: consume(n) fails with OutOfGas
// iff n > remaining; refund addition is checked."
type GasMeter struct {
	limit  uint64
	used   uint64
	refund uint64
}

func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume charges n gas, failing with KindOutOfGas if it would exceed
// the remaining budget.
func (g *GasMeter) Consume(n uint64) error {
	if n > g.limit-g.used {
		return errs.New(errs.KindOutOfGas, "execution: gas limit exceeded")
	}
	g.used += n
	return nil
}

// AddRefund accrues n to the refund counter, checked against overflow.
func (g *GasMeter) AddRefund(n uint64) error {
	if g.refund+n < g.refund {
		return errs.New(errs.KindOutOfGas, "execution: refund counter overflow")
	}
	g.refund += n
	return nil
}

// Used returns gas charged so far (before refund).
func (g *GasMeter) Used() uint64 { return g.used }

// Remaining returns the unconsumed portion of the limit.
func (g *GasMeter) Remaining() uint64 { return g.limit - g.used }

// EffectiveGasUsed applies the capped refund: effective = used - min(refund, used/2).
func (g *GasMeter) EffectiveGasUsed() uint64 {
	refundCap := g.used / 2
	r := g.refund
	if r > refundCap {
		r = refundCap
	}
	return g.used - r
}
