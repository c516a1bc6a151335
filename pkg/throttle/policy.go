package throttle

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KeyBy selects the request attributes a policy counts by.
type KeyBy string

const (
	// KeyByIP counts per client IP.
	KeyByIP KeyBy = "ip"
	// KeyByIPSubject counts per client IP and authenticated subject.
	KeyByIPSubject KeyBy = "ip_subject"
	// KeyByIPEmail counts per client IP and the email claimed in the
	// request body, so guesses against one account from one address share
	// a counter even before authentication.
	KeyByIPEmail KeyBy = "ip_email"
)

// Well-known policy names.
const (
	PolicyGlobal          = "global"
	PolicyLogin           = "login"
	PolicyCredentialReset = "credential_reset"
	PolicyAPI             = "api"
	PolicySensitiveWrite  = "sensitive_write"
	PolicyReport          = "report"
)

// Policy is one configured rate rule: a counting window, a maximum within
// it, a key derivation, and the rejection shape.
type Policy struct {
	Name    string
	Window  time.Duration
	Max     int64
	KeyBy   KeyBy
	Status  int
	Code    string
	Message string

	// Sensitive marks policies whose rejections are audited.
	Sensitive bool
}

// Request carries the attributes key derivation needs.
type Request struct {
	IP      string
	Subject string
	Email   string
}

// Key derives the counter key for this policy. Policy name is part of the
// key so independently configured policies never share counters.
func (p Policy) Key(req Request) string {
	switch p.KeyBy {
	case KeyByIPSubject:
		return p.Name + ":" + req.IP + ":" + req.Subject
	case KeyByIPEmail:
		return p.Name + ":" + req.IP + ":" + strings.ToLower(strings.TrimSpace(req.Email))
	default:
		return p.Name + ":" + req.IP
	}
}

// DefaultPolicies returns the built-in policy set.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Name:    PolicyGlobal,
			Window:  time.Minute,
			Max:     300,
			KeyBy:   KeyByIP,
			Status:  http.StatusTooManyRequests,
			Code:    "throttle_exceeded",
			Message: "too many requests",
		},
		{
			Name:      PolicyLogin,
			Window:    15 * time.Minute,
			Max:       5,
			KeyBy:     KeyByIPEmail,
			Status:    http.StatusTooManyRequests,
			Code:      "throttle_exceeded",
			Message:   "too many sign-in attempts",
			Sensitive: true,
		},
		{
			Name:      PolicyCredentialReset,
			Window:    time.Hour,
			Max:       3,
			KeyBy:     KeyByIPEmail,
			Status:    http.StatusTooManyRequests,
			Code:      "throttle_exceeded",
			Message:   "too many reset attempts",
			Sensitive: true,
		},
		{
			Name:    PolicyAPI,
			Window:  time.Minute,
			Max:     100,
			KeyBy:   KeyByIPSubject,
			Status:  http.StatusTooManyRequests,
			Code:    "throttle_exceeded",
			Message: "too many requests",
		},
		{
			Name:      PolicySensitiveWrite,
			Window:    time.Minute,
			Max:       30,
			KeyBy:     KeyByIPSubject,
			Status:    http.StatusTooManyRequests,
			Code:      "throttle_exceeded",
			Message:   "too many write operations",
			Sensitive: true,
		},
		{
			Name:    PolicyReport,
			Window:  10 * time.Minute,
			Max:     10,
			KeyBy:   KeyByIPSubject,
			Status:  http.StatusTooManyRequests,
			Code:    "throttle_exceeded",
			Message: "too many report requests",
		},
	}
}

// filePolicy is the YAML representation of a policy.
type filePolicy struct {
	Name      string `yaml:"name"`
	Window    string `yaml:"window"`
	Max       int64  `yaml:"max"`
	KeyBy     string `yaml:"key_by"`
	Status    int    `yaml:"status"`
	Code      string `yaml:"code"`
	Message   string `yaml:"message"`
	Sensitive bool   `yaml:"sensitive"`
}

type policyFile struct {
	Policies []filePolicy `yaml:"policies"`
}

// LoadPolicies reads a policy set from a YAML file. Missing rejection
// fields fall back to the standard 429 shape.
func LoadPolicies(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if len(file.Policies) == 0 {
		return nil, fmt.Errorf("policy file %s defines no policies", path)
	}

	policies := make([]Policy, 0, len(file.Policies))
	for _, fp := range file.Policies {
		policy, err := fp.toPolicy()
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

func (fp filePolicy) toPolicy() (Policy, error) {
	if fp.Name == "" {
		return Policy{}, fmt.Errorf("policy missing name")
	}
	window, err := time.ParseDuration(fp.Window)
	if err != nil {
		return Policy{}, fmt.Errorf("policy %s: invalid window %q: %w", fp.Name, fp.Window, err)
	}
	if window <= 0 {
		return Policy{}, fmt.Errorf("policy %s: window must be positive", fp.Name)
	}
	if fp.Max <= 0 {
		return Policy{}, fmt.Errorf("policy %s: max must be positive", fp.Name)
	}

	keyBy := KeyBy(fp.KeyBy)
	switch keyBy {
	case KeyByIP, KeyByIPSubject, KeyByIPEmail:
	case "":
		keyBy = KeyByIP
	default:
		return Policy{}, fmt.Errorf("policy %s: unknown key_by %q", fp.Name, fp.KeyBy)
	}

	policy := Policy{
		Name:      fp.Name,
		Window:    window,
		Max:       fp.Max,
		KeyBy:     keyBy,
		Status:    fp.Status,
		Code:      fp.Code,
		Message:   fp.Message,
		Sensitive: fp.Sensitive,
	}
	if policy.Status == 0 {
		policy.Status = http.StatusTooManyRequests
	}
	if policy.Code == "" {
		policy.Code = "throttle_exceeded"
	}
	if policy.Message == "" {
		policy.Message = "too many requests"
	}
	return policy, nil
}
