package domain

import (
	"fmt"
	"strconv"
	"strings"

	bsemver "github.com/blang/semver/v4"
)

// Version is the monotonically increasing entity version. Catalog versions
// only use the major.minor components and render as "1.2"; comparison and
// arithmetic delegate to blang/semver so ordering rules stay standard.
type Version struct {
	v bsemver.Version
}

// ZeroVersion is the "never persisted" sentinel; the first committed
// snapshot is InitialVersion.
var ZeroVersion = Version{}

// InitialVersion is assigned to freshly created entities.
var InitialVersion = Version{v: bsemver.Version{Minor: 1}}

// NewVersion builds a version from explicit components.
func NewVersion(major, minor uint64) Version {
	return Version{v: bsemver.Version{Major: major, Minor: minor}}
}

// ParseVersion reads the "major.minor" wire form.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("invalid version %q: want major.minor", s)
	}
	major, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return NewVersion(major, minor), nil
}

// Major returns the major component.
func (v Version) Major() uint64 { return v.v.Major }

// Minor returns the minor component.
func (v Version) Minor() uint64 { return v.v.Minor }

// NextMinor bumps the minor component.
func (v Version) NextMinor() Version {
	return NewVersion(v.v.Major, v.v.Minor+1)
}

// NextMajor bumps the major component and resets minor.
func (v Version) NextMajor() Version {
	return NewVersion(v.v.Major+1, 0)
}

// Compare orders versions per semver precedence (-1, 0, 1).
func (v Version) Compare(other Version) int {
	return v.v.Compare(other.v)
}

// Equals reports version equality.
func (v Version) Equals(other Version) bool {
	return v.Compare(other) == 0
}

// IsZero reports whether the version is the unpersisted sentinel.
func (v Version) IsZero() bool {
	return v.Equals(ZeroVersion)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.v.Major, v.v.Minor)
}

// MarshalJSON renders the wire form.
func (v Version) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(v.String())), nil
}

// UnmarshalJSON reads the wire form.
func (v *Version) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("invalid version payload: %w", err)
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UpdateType classifies how a change record moves the entity version.
type UpdateType string

const (
	NoChange    UpdateType = "NO_CHANGE"
	MinorUpdate UpdateType = "MINOR"
	MajorUpdate UpdateType = "MAJOR"
)
