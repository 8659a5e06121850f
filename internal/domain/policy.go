package domain

// TransferPolicy selects which transfer session carries a download
type TransferPolicy int

const (
	// PolicyRestricted keeps the transfer off the restricted (metered) transport
	PolicyRestricted TransferPolicy = iota
	// PolicyUnrestricted lets the transfer use any transport
	PolicyUnrestricted
)

// DefaultSizeThreshold is the size above which books default to PolicyRestricted
const DefaultSizeThreshold int64 = 100000000

// String returns the policy name
func (p TransferPolicy) String() string {
	switch p {
	case PolicyRestricted:
		return "restricted"
	case PolicyUnrestricted:
		return "unrestricted"
	default:
		return "unknown"
	}
}

// SelectPolicy picks the policy for a transfer of the given size.
// A non-nil allowUnrestricted wins outright; otherwise books larger than
// threshold use PolicyRestricted and the rest use PolicyUnrestricted.
func SelectPolicy(size, threshold int64, allowUnrestricted *bool) TransferPolicy {
	if allowUnrestricted != nil {
		if *allowUnrestricted {
			return PolicyUnrestricted
		}
		return PolicyRestricted
	}
	if size > threshold {
		return PolicyRestricted
	}
	return PolicyUnrestricted
}
