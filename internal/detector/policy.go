package detector

import "github.com/FleetFoot/RacePulse/internal/models"

// Policy says which competitive events a race category emits. The detector
// itself stays category-agnostic: bookkeeping always runs, the policy only
// gates emission.
type Policy struct {
	Overtake     bool
	LeaderChange bool
}

var policyByCategory = map[string]Policy{
	// Private (invitational) races are the competitive ones: head-to-head
	// overtakes matter, a "leader" banner does not.
	models.RaceCategoryPrivate: {Overtake: true},
	// Public races surface only the front of the field.
	models.RaceCategoryPublic: {LeaderChange: true},
}

func PolicyFor(category string) Policy {
	return policyByCategory[category]
}
