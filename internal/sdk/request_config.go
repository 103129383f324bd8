// Package sdk is the ad SDK surface the bridge wraps: global request
// configuration, ad objects and the loader contract that ad sources implement.
package sdk

// TagForChildDirectedTreatment marks requests as child-directed (COPPA)
type TagForChildDirectedTreatment int

const (
	ChildDirectedUnspecified TagForChildDirectedTreatment = -1
	ChildDirectedFalse       TagForChildDirectedTreatment = 0
	ChildDirectedTrue        TagForChildDirectedTreatment = 1
)

// ChildDirectedFromBool maps a tri-state flag; nil means unspecified
func ChildDirectedFromBool(directed *bool) TagForChildDirectedTreatment {
	switch {
	case directed == nil:
		return ChildDirectedUnspecified
	case *directed:
		return ChildDirectedTrue
	default:
		return ChildDirectedFalse
	}
}

// TagForUnderAgeOfConsent marks requests for users under the age of consent
type TagForUnderAgeOfConsent int

const (
	UnderAgeOfConsentUnspecified TagForUnderAgeOfConsent = -1
	UnderAgeOfConsentFalse       TagForUnderAgeOfConsent = 0
	UnderAgeOfConsentTrue        TagForUnderAgeOfConsent = 1
)

// UnderAgeOfConsentFromBool maps a tri-state flag; nil means unspecified
func UnderAgeOfConsentFromBool(under *bool) TagForUnderAgeOfConsent {
	switch {
	case under == nil:
		return UnderAgeOfConsentUnspecified
	case *under:
		return UnderAgeOfConsentTrue
	default:
		return UnderAgeOfConsentFalse
	}
}

// MaxAdContentRating is the content rating ceiling for served ads
type MaxAdContentRating string

const (
	MaxAdContentRatingUnspecified MaxAdContentRating = ""
	MaxAdContentRatingG           MaxAdContentRating = "G"
	MaxAdContentRatingPG          MaxAdContentRating = "PG"
	MaxAdContentRatingT           MaxAdContentRating = "T"
	MaxAdContentRatingMA          MaxAdContentRating = "MA"
)

// MaxAdContentRatingFromIndex maps 0..3 to G, PG, T, MA.
// Anything else falls back to the most restrictive rating, G.
func MaxAdContentRatingFromIndex(i int) MaxAdContentRating {
	switch i {
	case 0:
		return MaxAdContentRatingG
	case 1:
		return MaxAdContentRatingPG
	case 2:
		return MaxAdContentRatingT
	case 3:
		return MaxAdContentRatingMA
	default:
		return MaxAdContentRatingG
	}
}

// QAGMediaRating returns the highest IQG media rating the ceiling admits
// (1 all audiences, 2 everyone over 12, 3 mature). Unspecified admits all.
func (r MaxAdContentRating) QAGMediaRating() int {
	switch r {
	case MaxAdContentRatingG, MaxAdContentRatingPG:
		return 1
	case MaxAdContentRatingT:
		return 2
	default:
		return 3
	}
}

// RequestConfiguration is the global configuration applied to every ad request
type RequestConfiguration struct {
	TestDeviceIDs                []string
	TagForChildDirectedTreatment TagForChildDirectedTreatment
	TagForUnderAgeOfConsent      TagForUnderAgeOfConsent
	MaxAdContentRating           MaxAdContentRating
}

// DefaultRequestConfiguration returns a configuration with every tag unspecified
func DefaultRequestConfiguration() RequestConfiguration {
	return RequestConfiguration{
		TagForChildDirectedTreatment: ChildDirectedUnspecified,
		TagForUnderAgeOfConsent:      UnderAgeOfConsentUnspecified,
		MaxAdContentRating:           MaxAdContentRatingUnspecified,
	}
}

// ToBuilder starts a read-modify-write of c
func (c RequestConfiguration) ToBuilder() *RequestConfigurationBuilder {
	b := &RequestConfigurationBuilder{config: c}
	b.config.TestDeviceIDs = append([]string(nil), c.TestDeviceIDs...)
	return b
}

// IsTestDevice reports whether deviceID is one of the configured test devices
func (c RequestConfiguration) IsTestDevice(deviceID string) bool {
	if deviceID == "" {
		return false
	}
	for _, id := range c.TestDeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// RequestConfigurationBuilder builds a modified RequestConfiguration
type RequestConfigurationBuilder struct {
	config RequestConfiguration
}

// SetTestDeviceIDs replaces the test device list
func (b *RequestConfigurationBuilder) SetTestDeviceIDs(ids []string) *RequestConfigurationBuilder {
	b.config.TestDeviceIDs = append([]string(nil), ids...)
	return b
}

// SetTagForChildDirectedTreatment sets the child-directed tag
func (b *RequestConfigurationBuilder) SetTagForChildDirectedTreatment(tag TagForChildDirectedTreatment) *RequestConfigurationBuilder {
	b.config.TagForChildDirectedTreatment = tag
	return b
}

// SetTagForUnderAgeOfConsent sets the under-age-of-consent tag
func (b *RequestConfigurationBuilder) SetTagForUnderAgeOfConsent(tag TagForUnderAgeOfConsent) *RequestConfigurationBuilder {
	b.config.TagForUnderAgeOfConsent = tag
	return b
}

// SetMaxAdContentRating sets the content rating ceiling
func (b *RequestConfigurationBuilder) SetMaxAdContentRating(rating MaxAdContentRating) *RequestConfigurationBuilder {
	b.config.MaxAdContentRating = rating
	return b
}

// Build returns the configuration
func (b *RequestConfigurationBuilder) Build() RequestConfiguration {
	c := b.config
	c.TestDeviceIDs = append([]string(nil), b.config.TestDeviceIDs...)
	return c
}
