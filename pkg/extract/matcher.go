package extract

import (
	"fmt"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/textnorm"
)

// predicate identifies which config check rejected an email. Later predicates
// mean the config came closer to matching.
type predicate int

const (
	predSender predicate = iota
	predSubject
	predBody
	predNone
)

func (p predicate) reason() string {
	switch p {
	case predSender:
		return "no sender pattern matched"
	case predSubject:
		return "no subject pattern matched"
	case predBody:
		return "no body keyword matched"
	}
	return ""
}

// MatchOutcome is the result of matching one email against a user's configs.
type MatchOutcome struct {
	Matched bool
	// Config is the matched config, nil when Matched is false.
	Config *api.BankEmailConfig
	Reason string
}

// Match returns the first active config, in the given order, whose sender,
// subject and body predicates all accept the email.
func Match(email api.EmailMessage, configs []api.BankEmailConfig) MatchOutcome {
	email = normalizeEmail(email)

	best := -1
	bestFail := predSender
	for i := range configs {
		cfg := &configs[i]
		if !cfg.IsActive {
			continue
		}
		failed := firstFailing(email, cfg)
		if failed == predNone {
			return MatchOutcome{
				Matched: true,
				Config:  cfg,
				Reason:  fmt.Sprintf("matched config %q", displayName(cfg)),
			}
		}
		if best < 0 || failed > bestFail {
			best, bestFail = i, failed
		}
	}

	if best < 0 {
		return MatchOutcome{Reason: "no active configs"}
	}
	if bestFail == predSender {
		return MatchOutcome{Reason: bestFail.reason()}
	}
	return MatchOutcome{Reason: fmt.Sprintf("%s for config %q", bestFail.reason(), displayName(&configs[best]))}
}

// MatchConfig evaluates a single config regardless of its active flag.
func MatchConfig(email api.EmailMessage, cfg *api.BankEmailConfig) (bool, string) {
	failed := firstFailing(normalizeEmail(email), cfg)
	if failed == predNone {
		return true, fmt.Sprintf("matched config %q", displayName(cfg))
	}
	return false, failed.reason()
}

func firstFailing(email api.EmailMessage, cfg *api.BankEmailConfig) predicate {
	if !containsAny(email.From, cfg.FromPatterns) {
		return predSender
	}
	if len(cfg.SubjectPatterns) > 0 && !containsAny(email.Subject, cfg.SubjectPatterns) {
		return predSubject
	}
	// Banks often put the transaction wording only in the subject line, so
	// body keywords are looked up in the subject as well.
	if len(cfg.BodyKeywords) > 0 && !containsAny(email.Body, cfg.BodyKeywords) && !containsAny(email.Subject, cfg.BodyKeywords) {
		return predBody
	}
	return predNone
}

// containsAny reports whether any non-blank pattern occurs in s.
func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if textnorm.ContainsFold(s, textnorm.Normalize(p)) {
			return true
		}
	}
	return false
}

func normalizeEmail(e api.EmailMessage) api.EmailMessage {
	e.From = textnorm.Normalize(e.From)
	e.Subject = textnorm.Normalize(e.Subject)
	e.Body = textnorm.Normalize(e.Body)
	return e
}

func displayName(cfg *api.BankEmailConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.BankName
}
