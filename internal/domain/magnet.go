package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Magnet is the parsed view of a BEP-9 magnet URI. Trackers and Peers are the
// hints embedded in the URI; the acquirer appends its own fallback trackers.
type Magnet struct {
	Raw      string
	InfoHash string
	Name     string
	Trackers []string
	Peers    []string
}

// ParseMagnet validates and decomposes a magnet URI. It requires an
// xt=urn:btih: parameter carrying a 40-digit hex or 32-character base32
// info-hash; anything else is ErrInvalidInput.
func ParseMagnet(raw string) (Magnet, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Magnet{}, fmt.Errorf("%w: empty magnet uri", ErrInvalidInput)
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme != "magnet" {
		return Magnet{}, fmt.Errorf("%w: not a magnet uri", ErrInvalidInput)
	}

	q := u.Query()
	m := Magnet{Raw: trimmed, Name: q.Get("dn")}

	for _, xt := range q["xt"] {
		hash, ok := strings.CutPrefix(xt, "urn:btih:")
		if !ok {
			continue
		}
		if !validInfoHash(hash) {
			return Magnet{}, fmt.Errorf("%w: malformed info-hash %q", ErrInvalidInput, hash)
		}
		m.InfoHash = strings.ToLower(hash)
		break
	}
	if m.InfoHash == "" {
		return Magnet{}, fmt.Errorf("%w: missing xt=urn:btih parameter", ErrInvalidInput)
	}

	for _, tr := range q["tr"] {
		if strings.TrimSpace(tr) != "" {
			m.Trackers = append(m.Trackers, tr)
		}
	}
	for _, pe := range q["x.pe"] {
		if strings.TrimSpace(pe) != "" {
			m.Peers = append(m.Peers, pe)
		}
	}
	return m, nil
}

func validInfoHash(hash string) bool {
	switch len(hash) {
	case 40:
		for _, r := range strings.ToLower(hash) {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				return false
			}
		}
		return true
	case 32:
		for _, r := range strings.ToUpper(hash) {
			if (r < 'A' || r > 'Z') && (r < '2' || r > '7') {
				return false
			}
		}
		return true
	default:
		return false
	}
}
