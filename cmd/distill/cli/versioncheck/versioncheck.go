// Package versioncheck prints an upgrade hint when a newer release has
// been recorded locally. It never fails and never touches the network.
package versioncheck

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/mod/semver"
)

// CheckAndNotify compares the running version against the cached latest
// release marker (written by the installer) and prints a one-line hint
// when an upgrade is available.
func CheckAndNotify(w io.Writer, markerPath, current string) {
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return
	}
	latest := strings.TrimSpace(string(data))
	if latest == "" {
		return
	}

	cur := canonical(current)
	lat := canonical(latest)
	if !semver.IsValid(cur) || !semver.IsValid(lat) {
		return
	}
	if semver.Compare(lat, cur) > 0 {
		fmt.Fprintf(w, "distill %s is available (running %s)\n", latest, current)
	}
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
