// Package reward splits a bounty's total reward into ranked prize tiers.
package reward

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/contribium/contribium/internal/model"
)

var (
	ErrNoSuchTier = errors.New("no such tier")
	ErrLastTier   = errors.New("cannot remove the last tier")
)

// DefaultSchedule holds the share of the total for ranks 1 through 5.
var DefaultSchedule = []float64{0.40, 0.25, 0.15, 0.10, 0.10}

// ExtraRankShare is the share for any rank past the default schedule.
const ExtraRankShare = 0.05

// DefaultTierCount is the number of tiers a new allocator starts with.
const DefaultTierCount = 5

// Tier is one ranked prize slot.
type Tier = model.RewardTier

// Share returns the fraction of the total assigned to a 1-based rank.
func Share(position int) float64 {
	if position >= 1 && position <= len(DefaultSchedule) {
		return DefaultSchedule[position-1]
	}
	return ExtraRankShare
}

// Distribute returns n amounts for total following the default schedule,
// each rounded to the nearest whole unit. The rounded amounts are not
// corrected to sum to total.
func Distribute(total float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round(total * Share(i+1))
	}
	return out
}

// Allocator keeps a tier set consistent with a total. It is not safe for
// concurrent use.
type Allocator struct {
	total   float64
	tiered  bool
	token   string
	usdRate float64
	tiers   []Tier
}

// DefaultUSDRate is the USD price assumed for token until SetUSDRate is
// called. Dollar stablecoins are worth one dollar; anything else is unknown.
func DefaultUSDRate(token string) float64 {
	switch strings.ToUpper(token) {
	case "USDC", "USDT", "USD":
		return 1
	}
	return 0
}

// NewAllocator returns an allocator in tiered mode with the default number of
// zero-amount tiers.
func NewAllocator(token string) *Allocator {
	a := &Allocator{tiered: true, token: token, usdRate: DefaultUSDRate(token)}
	for i := 1; i <= DefaultTierCount; i++ {
		a.tiers = append(a.tiers, Tier{Position: i, Token: token})
	}
	return a
}

// FromTiers restores a persisted tier set. Positions are renumbered in the
// given order and negative amounts are raised to zero. USD equivalents are
// recomputed when the token has a known rate.
func FromTiers(total float64, token string, tiered bool, tiers []Tier) *Allocator {
	a := &Allocator{total: total, tiered: tiered, token: token, usdRate: DefaultUSDRate(token)}
	for i, t := range tiers {
		t.Position = i + 1
		if t.Token == "" {
			t.Token = token
		}
		if t.Amount < 0 {
			t.Amount = 0
		}
		if a.usdRate > 0 {
			t.USDEquivalent = a.usd(t.Amount)
		}
		a.tiers = append(a.tiers, t)
	}
	if len(a.tiers) == 0 {
		a.tiers = []Tier{{Position: 1, Token: token}}
	}
	return a
}

func (a *Allocator) Total() float64 { return a.total }
func (a *Allocator) Tiered() bool   { return a.tiered }
func (a *Allocator) Token() string  { return a.token }

// SetUSDRate sets the token price used for USD equivalents.
func (a *Allocator) SetUSDRate(rate float64) {
	a.usdRate = rate
	for i := range a.tiers {
		a.tiers[i].USDEquivalent = a.usd(a.tiers[i].Amount)
	}
}

// SetTotal updates the total. In tiered mode a positive total regenerates
// every existing tier from the schedule, discarding manual edits.
func (a *Allocator) SetTotal(amount float64) {
	a.total = amount
	if a.tiered && amount > 0 {
		a.regenerate()
	}
}

// SetTiered switches tiered mode. Turning it on with a positive total
// regenerates the tiers.
func (a *Allocator) SetTiered(on bool) {
	a.tiered = on
	if on && a.total > 0 {
		a.regenerate()
	}
}

// SetTierAmount overrides one tier. Other tiers are left alone.
func (a *Allocator) SetTierAmount(position int, amount float64) error {
	i := position - 1
	if i < 0 || i >= len(a.tiers) {
		return fmt.Errorf("set tier %d: %w", position, ErrNoSuchTier)
	}
	if amount < 0 {
		amount = 0
	}
	a.tiers[i].Amount = amount
	a.tiers[i].USDEquivalent = a.usd(amount)
	return nil
}

// AddTier appends a zero-amount tier at the next position.
func (a *Allocator) AddTier() Tier {
	t := Tier{Position: len(a.tiers) + 1, Token: a.token}
	a.tiers = append(a.tiers, t)
	return t
}

// RemoveTier deletes a tier and renumbers the following ones.
func (a *Allocator) RemoveTier(position int) error {
	i := position - 1
	if i < 0 || i >= len(a.tiers) {
		return fmt.Errorf("remove tier %d: %w", position, ErrNoSuchTier)
	}
	if len(a.tiers) == 1 {
		return ErrLastTier
	}

	out := make([]Tier, 0, len(a.tiers)-1)
	out = append(out, a.tiers[:i]...)
	out = append(out, a.tiers[i+1:]...)
	for j := range out {
		out[j].Position = j + 1
	}
	a.tiers = out
	return nil
}

// TotalTierAmount sums every tier.
func (a *Allocator) TotalTierAmount() float64 {
	var sum float64
	for _, t := range a.tiers {
		sum += t.Amount
	}
	return sum
}

// Tiers returns a copy of the current tiers.
func (a *Allocator) Tiers() []Tier {
	out := make([]Tier, len(a.tiers))
	copy(out, a.tiers)
	return out
}

// Balance compares the tier sum with the total. The result is advisory.
func (a *Allocator) Balance() Balance {
	sum := a.TotalTierAmount()
	switch {
	case sum > a.total:
		return Exceeds
	case sum < a.total:
		return Short
	default:
		return Matches
	}
}

func (a *Allocator) regenerate() {
	amounts := Distribute(a.total, len(a.tiers))
	for i := range a.tiers {
		a.tiers[i].Amount = amounts[i]
		a.tiers[i].USDEquivalent = a.usd(amounts[i])
	}
}

func (a *Allocator) usd(amount float64) float64 {
	if a.usdRate <= 0 {
		return 0
	}
	return math.Round(amount*a.usdRate*100) / 100
}

type Balance int

const (
	Matches Balance = iota
	Exceeds
	Short
)

func (b Balance) String() string {
	switch b {
	case Exceeds:
		return "exceeds"
	case Short:
		return "short"
	default:
		return "matches"
	}
}

// Message describes the balance for display next to the tier editor.
func (b Balance) Message() string {
	switch b {
	case Exceeds:
		return "Total tier amounts exceed the total reward"
	case Short:
		return "Total tier amounts are less than the total reward"
	default:
		return "Tier amounts match the total reward"
	}
}

// PositionLabel renders a 1-based rank as 1st, 2nd, 3rd, 4th and so on.
func PositionLabel(position int) string {
	suffix := "th"
	switch position % 100 {
	case 11, 12, 13:
	default:
		switch position % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(position) + suffix
}
