package canonical

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	folder     = cases.Fold()
)

// clean trims and applies NFKC so visually identical input compares equal.
func clean(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// FoldKey returns the case-folded key used for actor names and aliases.
func FoldKey(s string) string {
	return folder.String(clean(s))
}

// InferIndicatorType guesses the indicator type of an already cleaned value.
func InferIndicatorType(value string) entities.IndicatorType {
	if _, err := netip.ParseAddr(value); err == nil {
		return entities.IndicatorIP
	}
	switch {
	case strings.Contains(value, "://"):
		return entities.IndicatorURL
	case strings.Contains(value, "@"):
		return entities.IndicatorEmail
	case strings.HasPrefix(strings.ToUpper(value), "CVE-"):
		return entities.IndicatorCVE
	}
	if hexPattern.MatchString(value) {
		switch len(value) {
		case 32:
			return entities.IndicatorMD5
		case 40:
			return entities.IndicatorSHA1
		case 64:
			return entities.IndicatorSHA256
		}
	}
	if strings.Contains(value, ".") {
		return entities.IndicatorDomain
	}
	return entities.IndicatorOther
}

// parseIndicatorType maps a caller-supplied type name. Unknown names yield "".
func parseIndicatorType(s string) entities.IndicatorType {
	switch t := entities.IndicatorType(strings.ToLower(strings.TrimSpace(s))); t {
	case entities.IndicatorIP, entities.IndicatorDomain, entities.IndicatorURL,
		entities.IndicatorEmail, entities.IndicatorMD5, entities.IndicatorSHA1,
		entities.IndicatorSHA256, entities.IndicatorCVE, entities.IndicatorOther:
		return t
	case "ipv4", "ipv6", "ip_address":
		return entities.IndicatorIP
	case "hostname", "fqdn":
		return entities.IndicatorDomain
	}
	return ""
}

// NormalizeIndicator returns the canonical value and type of an indicator.
// Domains, emails and URLs are lower-cased; hashes and IPs pass through.
func NormalizeIndicator(value string, typ entities.IndicatorType) (string, entities.IndicatorType) {
	v := clean(value)
	if typ == "" {
		typ = InferIndicatorType(v)
	}
	switch typ {
	case entities.IndicatorDomain:
		v = strings.TrimSuffix(strings.ToLower(v), ".")
	case entities.IndicatorEmail, entities.IndicatorURL:
		v = strings.ToLower(v)
	}
	return v, typ
}

// NormalizeTechnique keeps the MITRE-style code verbatim after cleaning.
func NormalizeTechnique(code string) string {
	return clean(code)
}

// BaseTechnique strips a sub-technique suffix: T1566.001 becomes T1566.
func BaseTechnique(code string) string {
	if i := strings.IndexByte(code, '.'); i > 0 {
		return code[:i]
	}
	return code
}
