package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qns-project/qns-core/pkg"
)

// HandoverRule is one parsed entry of the handover_rule_list grammar:
// "source=<net>(|<net>)*,target=<net>(|<net>)*,type=allowed|
// disallowed,[capabilities=<cap>(|<cap>)*],[roaming=true|false]".
type HandoverRule struct {
	Source       []pkg.AccessNetworkKind
	Target       []pkg.AccessNetworkKind
	Allowed      bool
	Capabilities []string
	Roaming      *bool
	raw          string
}

// FallbackRule is one parsed entry of a fallback rule list:
// "cause=<code>(|<code>|<start>~<end>)*,time=<millis>[,preference=cell|
// wifi]".
type FallbackRule struct {
	Causes     []CauseRange
	TimeMS     int
	Preference *pkg.Preference
	raw        string
}

// CauseRange is a single cause code or an inclusive range thereof.
type CauseRange struct {
	Start, End int
}

func (c CauseRange) Contains(code int) bool { return code >= c.Start && code <= c.End }

func parseAccessNetwork(tok string) (pkg.AccessNetworkKind, error) {
	switch strings.ToUpper(strings.TrimSpace(tok)) {
	case "GERAN":
		return pkg.AccessNetworkGERAN, nil
	case "UTRAN":
		return pkg.AccessNetworkUTRAN, nil
	case "EUTRAN":
		return pkg.AccessNetworkEUTRAN, nil
	case "NGRAN":
		return pkg.AccessNetworkNGRAN, nil
	case "IWLAN":
		return pkg.AccessNetworkIWLAN, nil
	default:
		return pkg.AccessNetworkUnknown, fmt.Errorf("unknown access network token %q", tok)
	}
}

func splitPipe(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "|") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseHandoverRules parses the full comma/semicolon-separated handover
// rule list. Each rule is one clause of key=value pairs; rules are
// separated by ';'. A malformed rule is discarded and the rules that
// parse are returned, so a malformed rule never fails the carrier-config
// load; the returned error is always nil.
func ParseHandoverRules(text string) ([]HandoverRule, error) {
	var rules []HandoverRule

	for _, clause := range strings.Split(text, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		rule, err := parseHandoverRule(clause)
		if err != nil {
			continue
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func parseHandoverRule(clause string) (HandoverRule, error) {
	var rule HandoverRule
	rule.raw = clause

	var typeSeen bool
	for _, kv := range strings.Split(clause, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return rule, fmt.Errorf("malformed token %q", kv)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])

		switch key {
		case "source":
			for _, tok := range splitPipe(val) {
				net, err := parseAccessNetwork(tok)
				if err != nil {
					return rule, err
				}
				rule.Source = append(rule.Source, net)
			}
		case "target":
			for _, tok := range splitPipe(val) {
				net, err := parseAccessNetwork(tok)
				if err != nil {
					return rule, err
				}
				rule.Target = append(rule.Target, net)
			}
		case "type":
			switch strings.ToLower(val) {
			case "allowed":
				rule.Allowed = true
			case "disallowed":
				rule.Allowed = false
			default:
				return rule, fmt.Errorf("unknown type %q", val)
			}
			typeSeen = true
		case "capabilities":
			rule.Capabilities = splitPipe(val)
		case "roaming":
			b := strings.EqualFold(val, "true")
			rule.Roaming = &b
		default:
			return rule, fmt.Errorf("unknown key %q", key)
		}
	}

	if len(rule.Source) == 0 || len(rule.Target) == 0 {
		return rule, fmt.Errorf("source and target must be non-empty")
	}
	if !typeSeen {
		return rule, fmt.Errorf("missing required type")
	}
	if containsUnknown(rule.Source) || containsUnknown(rule.Target) {
		return rule, fmt.Errorf("source/target may not contain UNKNOWN")
	}
	if !hasIWLAN(rule.Source) && !hasIWLAN(rule.Target) {
		return rule, fmt.Errorf("at least one side must be IWLAN")
	}
	return rule, nil
}

func containsUnknown(nets []pkg.AccessNetworkKind) bool {
	for _, n := range nets {
		if n == pkg.AccessNetworkUnknown {
			return true
		}
	}
	return false
}

func hasIWLAN(nets []pkg.AccessNetworkKind) bool {
	for _, n := range nets {
		if n == pkg.AccessNetworkIWLAN {
			return true
		}
	}
	return false
}

// String serialises a HandoverRule back to grammar text; used by the
// round-trip property test (P8).
func (r HandoverRule) String() string {
	var b strings.Builder
	b.WriteString("source=")
	b.WriteString(joinNets(r.Source))
	b.WriteString(",target=")
	b.WriteString(joinNets(r.Target))
	b.WriteString(",type=")
	if r.Allowed {
		b.WriteString("allowed")
	} else {
		b.WriteString("disallowed")
	}
	if len(r.Capabilities) > 0 {
		b.WriteString(",capabilities=")
		b.WriteString(strings.Join(r.Capabilities, "|"))
	}
	if r.Roaming != nil {
		b.WriteString(",roaming=")
		if *r.Roaming {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	}
	return b.String()
}

func joinNets(nets []pkg.AccessNetworkKind) string {
	parts := make([]string, len(nets))
	for i, n := range nets {
		parts[i] = n.String()
	}
	return strings.Join(parts, "|")
}

// Matches reports whether this rule applies to the given (src, dst)
// handover attempt, honoring first-match semantics at the call site.
func (r HandoverRule) Matches(src, dst pkg.AccessNetworkKind, roaming bool) bool {
	if !containsNet(r.Source, src) || !containsNet(r.Target, dst) {
		return false
	}
	if r.Roaming != nil && *r.Roaming != roaming {
		return false
	}
	return true
}

func containsNet(nets []pkg.AccessNetworkKind, n pkg.AccessNetworkKind) bool {
	for _, x := range nets {
		if x == n {
			return true
		}
	}
	return false
}

// ParseFallbackRules parses a ';'-separated fallback rule list. As with
// ParseHandoverRules, a malformed rule is discarded, the rules that parse
// are returned, and the returned error is always nil.
func ParseFallbackRules(text string) ([]FallbackRule, error) {
	var rules []FallbackRule

	for _, clause := range strings.Split(text, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		rule, err := parseFallbackRule(clause)
		if err != nil {
			continue
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func parseFallbackRule(clause string) (FallbackRule, error) {
	var rule FallbackRule
	rule.raw = clause
	var timeSeen, causeSeen bool

	for _, kv := range strings.Split(clause, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return rule, fmt.Errorf("malformed token %q", kv)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])

		switch key {
		case "cause":
			for _, tok := range splitPipe(val) {
				cr, err := parseCauseRange(tok)
				if err != nil {
					return rule, err
				}
				rule.Causes = append(rule.Causes, cr)
			}
			causeSeen = true
		case "time":
			n, err := strconv.Atoi(val)
			if err != nil {
				return rule, fmt.Errorf("invalid time %q", val)
			}
			rule.TimeMS = n
			timeSeen = true
		case "preference":
			var p pkg.Preference
			switch strings.ToLower(val) {
			case "cell":
				p = pkg.PreferenceCellPref
			case "wifi":
				p = pkg.PreferenceWiFiPref
			default:
				return rule, fmt.Errorf("unknown preference %q", val)
			}
			rule.Preference = &p
		default:
			return rule, fmt.Errorf("unknown key %q", key)
		}
	}

	if !causeSeen {
		return rule, fmt.Errorf("missing required cause")
	}
	if !timeSeen {
		return rule, fmt.Errorf("missing required time")
	}
	return rule, nil
}

func parseCauseRange(tok string) (CauseRange, error) {
	if strings.Contains(tok, "~") {
		parts := strings.SplitN(tok, "~", 2)
		start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			return CauseRange{}, fmt.Errorf("invalid cause range %q", tok)
		}
		return CauseRange{Start: start, End: end}, nil
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return CauseRange{}, fmt.Errorf("invalid cause code %q", tok)
	}
	return CauseRange{Start: n, End: n}, nil
}

// TimeForCause returns the fallback duration (ms) and preference for the
// first matching rule, or (0, nil, false) when none match.
func TimeForCause(rules []FallbackRule, cause int) (millis int, pref *pkg.Preference, ok bool) {
	for _, r := range rules {
		for _, cr := range r.Causes {
			if cr.Contains(cause) {
				return r.TimeMS, r.Preference, true
			}
		}
	}
	return 0, nil, false
}
