package dispatch

import (
	"custodia/internal/domain"
	dErrors "custodia/pkg/domain-errors"
)

// capabilities is the per-action allow table, checked once before
// routing. Actions absent from the table carry no capability
// requirement of their own: private deposits are gated on an
// authenticated origin instead, batches re-check every sub-action, and
// the disabled ticket path fails before any capability would matter.
var capabilities = map[Kind][]domain.Actor{
	KindIdentitySync:          {domain.ActorAdministrator, domain.ActorAgent},
	KindEmploymentSync:        {domain.ActorAdministrator, domain.ActorAgent},
	KindGoalSync:              {domain.ActorAdministrator, domain.ActorAgent, domain.ActorOracle},
	KindFreezeSync:            {domain.ActorAdministrator, domain.ActorAgent},
	KindMint:                  {domain.ActorAdministrator},
	KindClaimRequirementsSync: {domain.ActorAdministrator, domain.ActorAgent},
	KindInvestorAuthSync:      {domain.ActorAdministrator, domain.ActorAgent},
	KindInvestorLockupSync:    {domain.ActorAdministrator, domain.ActorAgent},
	KindCreateRound:           {domain.ActorAdministrator},
	KindRoundAllowlistSync:    {domain.ActorAdministrator, domain.ActorAgent},
	KindOpenRound:             {domain.ActorAdministrator},
	KindCloseRound:            {domain.ActorAdministrator},
	KindMarkSettled:           {domain.ActorAdministrator, domain.ActorOracle},
	KindRefundPurchase:        {domain.ActorAdministrator, domain.ActorOracle},
	KindTokenComplianceSync:   {domain.ActorAdministrator},
}

func checkCapability(kind Kind, actor domain.Actor) error {
	allowed, gated := capabilities[kind]
	if !gated {
		return nil
	}
	for _, candidate := range allowed {
		if actor == candidate {
			return nil
		}
	}
	return dErrors.Newf(dErrors.CodePermissionDenied, "%s may not be submitted by %s", kind, actor)
}
