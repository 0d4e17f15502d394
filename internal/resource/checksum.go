package resource

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// SHA1File returns the lowercase hex SHA-1 of the file at path.
func SHA1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseSHA1 extracts a checksum from sidecar text such as
// "2fd4e1c67a2d28fced849ee1bb76e7391b93eb12  name.jar". It reports false for
// anything that is not exactly 40 hex digits.
func ParseSHA1(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	sum := strings.ToLower(fields[0])
	if len(sum) != 2*sha1.Size {
		return "", false
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", false
	}
	return sum, true
}
