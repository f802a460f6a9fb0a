package kernel

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var reservedWindowsNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const maxFilenameLen = 200

// SanitizeFilename normalizes name to NFC, strips path separators and
// control bytes, replaces anything that isn't a letter, digit, dot,
// dash, or underscore with "_", blocks reserved device names, and
// truncates to maxFilenameLen bytes while preserving the extension.
// Evidence snapshots and acquired files derive their on-disk names from
// target IDs and remote URLs, neither of which is trusted input, so
// every write under raw/ or evidence/ goes through this first.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	name = filepath.Base(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			continue
		case r == '/' || r == '\\':
			b.WriteByte('_')
		case r == '.' || r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	cleaned := strings.Trim(b.String(), "._")
	if cleaned == "" {
		cleaned = "unnamed"
	}

	ext := filepath.Ext(cleaned)
	stem := strings.TrimSuffix(cleaned, ext)
	if reservedWindowsNames[strings.ToUpper(stem)] {
		stem = "_" + stem
	}

	if len(stem)+len(ext) > maxFilenameLen {
		keep := maxFilenameLen - len(ext)
		if keep < 1 {
			keep = 1
		}
		stem = stem[:keep]
	}
	return stem + ext
}
