// Package policy gates which agent actions a deployment allows. Trading is
// disabled unless explicitly enabled, mirroring a read-only default.
package policy

import (
	"strings"

	"github.com/predixlabs/predix-agent/internal/command"
	agenterr "github.com/predixlabs/predix-agent/internal/errors"
)

type Policy struct {
	// TradesEnabled permits execute_trade; every other action is read-only
	// and always allowed.
	TradesEnabled bool

	// AllowedActions optionally narrows the action set further. Empty means
	// all actions (subject to TradesEnabled).
	AllowedActions []string
}

func (p Policy) CheckActionAllowed(action string) error {
	if action == command.ActionExecuteTrade && !p.TradesEnabled {
		return agenterr.New(agenterr.CodeBlocked, "Trading is disabled on this deployment")
	}
	if len(p.AllowedActions) == 0 {
		return nil
	}
	for _, allowed := range p.AllowedActions {
		if strings.EqualFold(strings.TrimSpace(allowed), action) {
			return nil
		}
	}
	return agenterr.New(agenterr.CodeBlocked, "Action blocked by policy: "+action)
}
