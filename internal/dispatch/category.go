package dispatch

import (
	"regexp"
	"strings"
)

// Unclassified is the category of endpoints that are not rate limited.
const Unclassified = ""

var versionSegment = regexp.MustCompile(`^v\d+(\.\d+)*$`)

// Category derives the rate-limit group of an endpoint path: the first
// segment after the version prefix.
//
//	/v1.2/campaign/create/        -> campaign
//	/v1.1/creative/copyright/get/ -> creative
//	/v1.2/file/video/ad/upload/   -> file
//	/oauth2/advertiser/get/       -> "" (no version prefix)
func Category(endpoint string) string {
	path, _, _ := strings.Cut(endpoint, "?")
	path = strings.Trim(path, "/")
	if path == "" {
		return Unclassified
	}

	segments := strings.Split(path, "/")
	if len(segments) < 3 || !versionSegment.MatchString(segments[0]) {
		return Unclassified
	}
	return segments[1]
}
