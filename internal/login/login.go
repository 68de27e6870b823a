// internal/login/login.go

// Package login classifies a live session's authentication state from a page
// snapshot. Detection is a pure function of (platform capabilities, page probe)
// so it can be tested without a browser; the session layer is responsible for
// gathering the probe.
package login

import (
	"strings"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/platform"
)

// Verdict is the detector's classification plus the signal that produced it.
type Verdict struct {
	Status schemas.LoginStatus
	Reason string
	// VerificationRequired is set when the page is a verification wall and a
	// human has to intervene before any other signal means anything.
	VerificationRequired bool
}

// Detect classifies the probe. Evaluation order matters: a blacklisted redirect
// target or a rendered verification marker short-circuits everything else;
// cookie-plus-marker agreement confirms a login; explicit logged-out markers
// confirm the opposite; anything else stays indeterminate so callers never
// assume success on silence.
func Detect(caps platform.Capabilities, probe schemas.PageProbe) Verdict {
	if frag := matchBlacklist(caps.BlacklistURLFragments, probe.URL); frag != "" {
		return Verdict{
			Status:               schemas.StatusIndeterminate,
			Reason:               "redirected to verification wall (" + frag + ")",
			VerificationRequired: true,
		}
	}

	if marker := firstHit(caps.BlockedMarkers, probe.MarkerHits); marker != "" {
		return Verdict{
			Status:               schemas.StatusIndeterminate,
			Reason:               "verification marker " + marker + " rendered",
			VerificationRequired: true,
		}
	}

	if cookie := firstPresentCookie(caps.RequiredCookies, probe.CookieNames); cookie != "" {
		if marker := firstHit(caps.LoggedInMarkers, probe.MarkerHits); marker != "" {
			return Verdict{
				Status: schemas.StatusLoggedIn,
				Reason: "cookie " + cookie + " present and marker " + marker + " found",
			}
		}
	}

	if marker := firstHit(caps.LoggedOutMarkers, probe.MarkerHits); marker != "" {
		return Verdict{
			Status: schemas.StatusLoggedOut,
			Reason: "logged-out marker " + marker + " found",
		}
	}

	return Verdict{
		Status: schemas.StatusIndeterminate,
		Reason: "no conclusive login signal",
	}
}

func matchBlacklist(fragments []string, pageURL string) string {
	for _, frag := range fragments {
		if frag != "" && strings.Contains(pageURL, frag) {
			return frag
		}
	}
	return ""
}

func firstPresentCookie(required, present []string) string {
	for _, want := range required {
		for _, have := range present {
			if want == have {
				return want
			}
		}
	}
	return ""
}

func firstHit(markers []string, hits map[string]bool) string {
	for _, marker := range markers {
		if hits[marker] {
			return marker
		}
	}
	return ""
}
