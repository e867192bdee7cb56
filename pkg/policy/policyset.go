package policy

import "github.com/qns-project/qns-core/pkg"

// PoliciesFor resolves the Access Network Selection Policy set applicable
// to a PreCondition (handover/rove policy table, keyed by
// call-type/preference/coverage/guarding). The carrier config encodes
// this as a flat list under "policy_list"; each entry is parsed once at
// CarrierConfig construction time.
func (s *Store) PoliciesFor(pc pkg.PreCondition) []pkg.Policy {
	var out []pkg.Policy
	for _, p := range s.active.policies {
		if p.PreCondition.Equal(pc) {
			out = append(out, p)
		}
	}
	return out
}

// SetPolicies installs the policy set parsed for this carrier config, for
// tests and for the loader that builds CarrierConfig from asset JSON.
func (cc *CarrierConfig) SetPolicies(policies []pkg.Policy) {
	cc.policies = policies
}
