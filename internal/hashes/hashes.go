// Package hashes derives the canonical hash list of a component from the
// checksum fields of a raw record.
package hashes

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// preference is the emission order for integrity blobs.
var preference = []string{model.SHA512, model.SHA384, model.SHA256, model.SHA1}

// hexLengths are the hex lengths of 128/160/256/384/512-bit digests.
var hexLengths = map[int]bool{32: true, 40: true, 64: true, 96: true, 128: true}

// Normalize returns the hash list for a record. A single precomputed
// checksum always wins and is emitted as SHA-1; otherwise the integrity blob
// is decomposed in SHA-512, SHA-384, SHA-256, SHA-1 order. A nil slice means
// no hash survived and the attribute must be omitted.
func Normalize(shasum, integrity string) []model.Hash {
	if s := strings.TrimSpace(shasum); s != "" {
		return []model.Hash{{Algorithm: model.SHA1, Content: Digest(s)}}
	}

	found := parseIntegrity(integrity)
	var out []model.Hash
	for _, alg := range preference {
		if d, ok := found[alg]; ok {
			out = append(out, model.Hash{Algorithm: alg, Content: Digest(d)})
		}
	}
	return out
}

// parseIntegrity splits an integrity blob into algorithm -> digest. Tokens
// look like "sha512-<base64>" (subresource integrity) or "sha256:<hex>".
// The first digest seen for an algorithm wins.
func parseIntegrity(integrity string) map[string]string {
	found := map[string]string{}
	for _, token := range strings.Fields(integrity) {
		i := strings.IndexAny(token, "-:")
		if i <= 0 {
			continue
		}
		alg := algorithmName(token[:i])
		digest := token[i+1:]
		if alg == "" || digest == "" {
			continue
		}
		if _, ok := found[alg]; !ok {
			found[alg] = digest
		}
	}
	return found
}

func algorithmName(prefix string) string {
	switch strings.ToLower(strings.ReplaceAll(prefix, "-", "")) {
	case "sha512":
		return model.SHA512
	case "sha384":
		return model.SHA384
	case "sha256":
		return model.SHA256
	case "sha1":
		return model.SHA1
	}
	return ""
}

// Digest returns d as lowercase hex. Digests that are not hex of a known
// length are tried as base64 and transcoded; anything else passes through.
func Digest(d string) string {
	d = strings.TrimSpace(d)
	if isHexDigest(d) {
		return strings.ToLower(d)
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(d); err == nil && hexLengths[len(raw)*2] {
			return hex.EncodeToString(raw)
		}
	}
	return d
}

func isHexDigest(d string) bool {
	if !hexLengths[len(d)] {
		return false
	}
	_, err := hex.DecodeString(d)
	return err == nil
}
