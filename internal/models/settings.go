package models

import "time"

// Rule condition and action vocabulary.
const (
	RuleFieldSender      = "sender"
	RuleOperatorContains = "contains"
	RuleActionMove       = "move"
)

type Signature struct {
	IsEnabled bool   `json:"is_enabled"`
	Body      string `json:"body"`
}

type AutoResponder struct {
	IsEnabled bool       `json:"is_enabled"`
	Subject   string     `json:"subject"`
	Message   string     `json:"message"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// Active reports whether the responder should answer at instant now.
// A missing bound leaves that side of the range open.
func (a *AutoResponder) Active(now time.Time) bool {
	if !a.IsEnabled {
		return false
	}
	if a.StartDate != nil && now.Before(*a.StartDate) {
		return false
	}
	if a.EndDate != nil && now.After(*a.EndDate) {
		return false
	}
	return true
}

type RuleCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type RuleAction struct {
	Type   string `json:"type"`
	Folder string `json:"folder"`
}

// Rule routes incoming mail. Rules are evaluated in order and the first match wins.
type Rule struct {
	ID        string        `json:"id"`
	Condition RuleCondition `json:"condition"`
	Action    RuleAction    `json:"action"`
}

// Valid reports whether the rule can be evaluated at all.
func (r *Rule) Valid() bool {
	return r.Condition.Field == RuleFieldSender &&
		r.Condition.Operator == RuleOperatorContains &&
		r.Condition.Value != "" &&
		r.Action.Type == RuleActionMove &&
		r.Action.Folder != ""
}

// AppSettings are the per-user mail preferences: signature, auto-responder and rules.
type AppSettings struct {
	Signature     Signature     `json:"signature"`
	AutoResponder AutoResponder `json:"auto_responder"`
	Rules         []Rule        `json:"rules"`
}

// DefaultAppSettings is used whenever stored settings are missing or unreadable.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Signature: Signature{IsEnabled: false, Body: ""},
		AutoResponder: AutoResponder{
			IsEnabled: false,
			Subject:   "Out of office",
			Message:   "I am currently away and will reply when I am back.",
		},
		Rules: []Rule{},
	}
}

// Clone returns a deep copy.
func (s AppSettings) Clone() AppSettings {
	s.Rules = append([]Rule{}, s.Rules...)
	if s.AutoResponder.StartDate != nil {
		t := *s.AutoResponder.StartDate
		s.AutoResponder.StartDate = &t
	}
	if s.AutoResponder.EndDate != nil {
		t := *s.AutoResponder.EndDate
		s.AutoResponder.EndDate = &t
	}
	return s
}
