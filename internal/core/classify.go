package core

// Sign returns the multiplier a transaction kind applies to its amount in
// every running balance: +1 for in and past_correct_in, -1 for out and
// past_correct_out, 0 for the correct_* annulment markers.
//
// Unknown kinds are an invariant violation; they are never mapped to 0.
func Sign(t TransactionType) (int64, error) {
	switch t {
	case TypeIn, TypePastCorrectIn:
		return 1, nil
	case TypeOut, TypePastCorrectOut:
		return -1, nil
	case TypeCorrectIn, TypeCorrectOut:
		return 0, nil
	default:
		return 0, invariant("unknown transaction type %q", string(t))
	}
}

// Contribution returns the signed amount tx adds to a running balance.
func Contribution(tx Transaction) (int64, error) {
	if tx.Amount <= 0 {
		return 0, invariant("transaction %d has non-positive amount %d", tx.ID, tx.Amount)
	}
	sign, err := Sign(tx.Type)
	if err != nil {
		return 0, err
	}
	return sign * tx.Amount, nil
}
