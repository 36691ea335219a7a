package syncengine

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"cryptdrive.io/core"
)

// reservedNames lists OS-reserved filename tokens checked by
// checkNameAnomaly's NAME_RESERVED test (§4.7.4). Comparison is
// case-insensitive, matching Windows' reserved-device-name rule.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// checkNameAnomaly runs the two filename checks of §4.7.4 when naming or
// recreating a local path for a remote node's attribute name remoteName. Anomalies
// are reported through notify but never block the caller.
func checkNameAnomaly(localPath, remoteName string, notify func(path string, kind core.NameAnomalyKind)) {
	local := path.Base(localPath)
	if !namesEqualCanonical(local, remoteName) {
		notify(localPath, core.NameMismatch)
	}
	if isReservedName(local) {
		notify(localPath, core.NameReserved)
	}
}

// namesEqualCanonical compares two filenames under Unicode NFC
// normalization, so a remote name that differs from the local one only by
// composed/decomposed accents doesn't trip a false NAME_MISMATCH.
func namesEqualCanonical(a, b string) bool {
	return norm.NFC.String(a) == norm.NFC.String(b)
}

func isReservedName(name string) bool {
	base := strings.ToLower(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return reservedNames[base]
}
