package model

// Lead is one radar-tracked vehicle ahead. DRel/YRel are longitudinal and
// lateral offsets in meters, VLead the raw lead speed, VLeadK/ALeadK the
// filtered lead speed and acceleration, and VRel the relative speed.
// Status is false when the slot holds no track.
type Lead struct {
	Status bool
	DRel   float64
	YRel   float64
	VRel   float64
	VLead  float64
	VLeadK float64
	ALeadK float64
	FCW    bool
}

// closeLeadDist bounds how far ahead a lead still counts as "followed".
const closeLeadDist = 45.0

// IsFollowing reports whether this lead puts the ego vehicle in the
// following regime: a close track that is faster than the ego vehicle and
// still accelerating. The stricter following accel envelope applies then.
func (l Lead) IsFollowing(vEgo float64) bool {
	return l.Status && l.DRel < closeLeadDist && l.VLeadK > vEgo && l.ALeadK > 0.0
}
