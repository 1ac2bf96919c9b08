package mesh

import "strconv"

// PublishBudget limits how many readings the bridge publishes before it
// stops. The zero value is an exhausted finite budget; use Unlimited or
// Remaining.
type PublishBudget struct {
	unlimited bool
	left      uint64
}

// Unlimited returns a budget that never runs out.
func Unlimited() PublishBudget {
	return PublishBudget{unlimited: true}
}

// Remaining returns a budget of n publishes.
func Remaining(n uint64) PublishBudget {
	return PublishBudget{left: n}
}

// BudgetFromCount maps the command-line publish count to a budget: zero or
// less means unlimited.
func BudgetFromCount(n int) PublishBudget {
	if n <= 0 {
		return Unlimited()
	}
	return Remaining(uint64(n))
}

// Consume records one successful publish.
func (b *PublishBudget) Consume() {
	if !b.unlimited && b.left > 0 {
		b.left--
	}
}

// Exhausted reports whether a finite budget has reached zero.
func (b PublishBudget) Exhausted() bool {
	return !b.unlimited && b.left == 0
}

// IsUnlimited reports whether the budget is unlimited.
func (b PublishBudget) IsUnlimited() bool {
	return b.unlimited
}

// Left returns the publishes remaining, and false for an unlimited budget.
func (b PublishBudget) Left() (uint64, bool) {
	if b.unlimited {
		return 0, false
	}
	return b.left, true
}

func (b PublishBudget) String() string {
	if b.unlimited {
		return "unlimited"
	}
	return strconv.FormatUint(b.left, 10)
}
