package browser

import (
	"os"
)

// binaryCandidates are checked in order after the CHROME_BIN environment
// variable. Containers and distro packages install Chromium in different places.
var binaryCandidates = []string{
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/usr/lib/chromium/chrome",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
}

// ResolveBinary returns the browser binary to launch: explicit when set, else
// CHROME_BIN, else the first existing well-known path. It returns "" when
// nothing is found so the engine can fall back to its managed browser.
func ResolveBinary(explicit string) string {
	return resolveBinary(explicit, os.Getenv("CHROME_BIN"), binaryCandidates, fileExists)
}

func resolveBinary(explicit, env string, candidates []string, exists func(string) bool) string {
	if explicit != "" {
		return explicit
	}
	if env != "" && exists(env) {
		return env
	}
	for _, c := range candidates {
		if exists(c) {
			return c
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
