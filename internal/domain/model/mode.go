package model

// AccelProfile selects which upper acceleration table the limit model uses.
type AccelProfile string

const (
	ProfileNormal AccelProfile = "normal"
	ProfileEco    AccelProfile = "eco"
	ProfileSport  AccelProfile = "sport"
)

func (p AccelProfile) String() string {
	return string(p)
}

// ParseAccelProfile maps a tuning value to a profile, defaulting to normal
// on anything unrecognized.
func ParseAccelProfile(s string) AccelProfile {
	switch AccelProfile(s) {
	case ProfileEco:
		return ProfileEco
	case ProfileSport:
		return ProfileSport
	default:
		return ProfileNormal
	}
}
