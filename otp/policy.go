// Package otp throttles one-time-password requests and verifications per
// phone number.
//
// The state machine is OPEN -> LOCKED -> OPEN. A phone is LOCKED after
// MaxAttempts invalid codes inside AttemptWindow and stays locked until the
// fixed expiry LockoutTTL later; attempts during the lock never extend it.
// Requests for a new code are additionally spaced by RequestInterval.
package otp

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cppla/habitledger/apperr"
)

// Policy holds the throttle limits.
type Policy struct {
	RequestInterval time.Duration
	MaxAttempts     int
	AttemptWindow   time.Duration
	LockoutTTL      time.Duration
	CodeTTL         time.Duration
	CodeLength      int
	// HashCost is the bcrypt cost for stored codes.
	HashCost int
}

// DefaultPolicy returns the production limits.
func DefaultPolicy() Policy {
	return Policy{
		RequestInterval: 30 * time.Second,
		MaxAttempts:     5,
		AttemptWindow:   15 * time.Minute,
		LockoutTTL:      5 * time.Minute,
		CodeTTL:         5 * time.Minute,
		CodeLength:      6,
		HashCost:        bcrypt.DefaultCost,
	}
}

// withDefaults fills unset fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.RequestInterval <= 0 {
		p.RequestInterval = d.RequestInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.AttemptWindow <= 0 {
		p.AttemptWindow = d.AttemptWindow
	}
	if p.LockoutTTL <= 0 {
		p.LockoutTTL = d.LockoutTTL
	}
	if p.CodeTTL <= 0 {
		p.CodeTTL = d.CodeTTL
	}
	if p.CodeLength <= 0 {
		p.CodeLength = d.CodeLength
	}
	if p.HashCost < bcrypt.MinCost || p.HashCost > bcrypt.MaxCost {
		p.HashCost = d.HashCost
	}
	return p
}

// Retention is how long an idle, unlocked state is still meaningful.
func (p Policy) Retention() time.Duration {
	r := p.AttemptWindow
	for _, d := range []time.Duration{p.LockoutTTL, p.CodeTTL, p.RequestInterval} {
		if d > r {
			r = d
		}
	}
	return r
}

// NormalizePhone trims and validates an E.164-ish number.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	p = strings.NewReplacer(" ", "", "-", "").Replace(p)
	if len(p) < 5 || len(p) > 32 {
		return "", apperr.InvalidRequest("invalid phone number")
	}
	for i, r := range p {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return "", apperr.InvalidRequest("invalid phone number")
		}
	}
	return p, nil
}

// maskPhone keeps the last four digits for logs.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
