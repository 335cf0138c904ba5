package consensus

import "github.com/meridianchain/meridian-node/errs"

var errNoActiveValidators = errs.New(errs.KindQuorumNotReached, "consensus: no active validators with nonzero stake")
