package id

import (
	"sort"
	"testing"
)

func TestGenerateIsPrefixedAndOrdered(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = PaymentID()
	}
	seen := map[string]bool{}
	for _, v := range ids {
		if !HasPrefix(v, PrefixPayment) {
			t.Fatalf("id %q is missing prefix", v)
		}
		if seen[v] {
			t.Fatalf("duplicate id %q", v)
		}
		seen[v] = true
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("ids generated in sequence should sort in generation order")
	}
}

func TestInvitationToken(t *testing.T) {
	a, b := InvitationToken(), InvitationToken()
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}
