// Package sender holds the behavioral profile of the user sending money.
package sender

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a sender has no profile yet.
var ErrNotFound = errors.New("sender: profile not found")

// NewSenderThreshold is the transaction count below which a sender is
// treated as new.
const NewSenderThreshold = 5

// InitialTrustScore is the trust score of a sender with no history.
const InitialTrustScore = 100.0

// MaxKnownDevices bounds how many devices a profile remembers.
const MaxKnownDevices = 5

// Profile is the sender's behavioral profile.
type Profile struct {
	SenderID           string    `json:"senderId"`
	DisplayName        string    `json:"displayName"`
	Contacts           []string  `json:"contacts,omitempty"`
	KnownDevices       []string  `json:"knownDevices"` // most recent first
	TransactionCount   int       `json:"transactionCount"`
	TrustScore         float64   `json:"trustScore"`
	AverageAmount      float64   `json:"averageAmount"`
	CommonDestinations []string  `json:"commonDestinations"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// New returns the profile of a brand-new sender.
func New(senderID, displayName string, now time.Time) *Profile {
	return &Profile{
		SenderID:           senderID,
		DisplayName:        displayName,
		TrustScore:         InitialTrustScore,
		KnownDevices:       []string{},
		CommonDestinations: []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IsNew reports whether the sender has fewer than NewSenderThreshold
// completed transactions. A nil profile is new.
func (p *Profile) IsNew() bool {
	return p == nil || p.TransactionCount < NewSenderThreshold
}

// Knows reports whether destination is one of the sender's common
// destinations. A nil profile knows nobody.
func (p *Profile) Knows(destination string) bool {
	return p != nil && slices.Contains(p.CommonDestinations, destination)
}

// KnowsDevice reports whether deviceID was used for an earlier completed
// payment.
func (p *Profile) KnowsDevice(deviceID string) bool {
	return p != nil && slices.Contains(p.KnownDevices, deviceID)
}

// RememberDevice moves deviceID to the front of the known devices,
// forgetting the oldest past MaxKnownDevices. Empty IDs are ignored.
func (p *Profile) RememberDevice(deviceID string) {
	if deviceID == "" {
		return
	}
	devices := slices.DeleteFunc(p.KnownDevices, func(d string) bool { return d == deviceID })
	devices = slices.Insert(devices, 0, deviceID)
	if len(devices) > MaxKnownDevices {
		devices = devices[:MaxKnownDevices]
	}
	p.KnownDevices = devices
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Contacts = slices.Clone(p.Contacts)
	c.KnownDevices = slices.Clone(p.KnownDevices)
	if c.KnownDevices == nil {
		c.KnownDevices = []string{}
	}
	c.CommonDestinations = slices.Clone(p.CommonDestinations)
	if c.CommonDestinations == nil {
		c.CommonDestinations = []string{}
	}
	return &c
}

// RecordPayment folds a completed payment into the profile: the count
// grows by one, the running average absorbs amount, and destination
// becomes a common destination.
func (p *Profile) RecordPayment(destination string, amount float64, now time.Time) {
	n := float64(p.TransactionCount)
	p.AverageAmount = (p.AverageAmount*n + amount) / (n + 1)
	p.TransactionCount++
	if !slices.Contains(p.CommonDestinations, destination) {
		p.CommonDestinations = append(p.CommonDestinations, destination)
	}
	p.UpdatedAt = now
}

// Store persists profiles.
type Store interface {
	Get(ctx context.Context, senderID string) (*Profile, error)
	Put(ctx context.Context, p *Profile) error
}

// Ensure returns the sender's profile, creating a brand-new one on first
// contact.
func Ensure(ctx context.Context, s Store, senderID, displayName string) (*Profile, error) {
	p, err := s.Get(ctx, senderID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	p = New(senderID, displayName, time.Now().UTC())
	if err := s.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
