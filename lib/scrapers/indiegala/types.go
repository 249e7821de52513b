package indiegala

import (
	"fmt"
	"runtime"
)

// OsTag is one of the storefront's operating system build tags.
type OsTag string

const (
	OsWindows OsTag = "win"
	OsLinux   OsTag = "lin"
	OsMac     OsTag = "mac"
)

// KnownOsTags is every build tag the storefront publishes, in the
// order compatibility sets are reported.
var KnownOsTags = []OsTag{OsWindows, OsLinux, OsMac}

// CurrentOsTag maps the running platform onto the storefront's build
// tag. The second return value is false on platforms the storefront
// never publishes builds for.
func CurrentOsTag() (OsTag, bool) {
	switch runtime.GOOS {
	case "windows":
		return OsWindows, true
	case "linux":
		return OsLinux, true
	case "darwin":
		return OsMac, true
	}
	return "", false
}

func IsKnownOsTag(tag OsTag) bool {
	for _, known := range KnownOsTags {
		if tag == known {
			return true
		}
	}
	return false
}

type LicenseKind string

// the showcase only ever lists outright purchases
const LicenseSinglePurchase LicenseKind = "single_purchase"

// CatalogEntry is one owned product parsed from a showcase listing
// page. ProductId is the stable URL slug and the primary key for link
// caching.
type CatalogEntry struct {
	ProductId string
	Title     string
	License   LicenseKind
	DlcIds    []string
}

// Identity is the authenticated account, resolved once per session.
type Identity struct {
	Username string
}

var ErrChallengeDetected = fmt.Errorf("the response was intercepted by an anti-automation challenge")
var ErrNotAuthenticated = fmt.Errorf("no user is logged into this session")
var ErrParse = fmt.Errorf("the page did not have the expected structure")
var ErrAuthenticationAbandoned = fmt.Errorf("gave up after repeated security challenges")
